package services

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/soaringjerry/Mindwell/internal/assessment"
	"github.com/soaringjerry/Mindwell/internal/events"
	"github.com/soaringjerry/Mindwell/internal/metrics"
)

// SessionStore abstracts persistence required by SessionService. Getters
// return nil, nil when the record does not exist.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) (*Session, error)
	UpdateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, userID, variant string) ([]*Session, error)
	CreateReport(ctx context.Context, r *Report) (*Report, error)
	FindReportBySession(ctx context.Context, sessionID string) (*Report, error)
	ListReports(ctx context.Context, userID, variant string) ([]*Report, error)
}

// VariantCatalog resolves variant definitions by id.
type VariantCatalog interface {
	Get(id string) (*assessment.Variant, bool)
}

// ReportCache holds report history per user and variant. An empty variant
// means every variant.
type ReportCache interface {
	GetReports(ctx context.Context, userID, variant string) ([]*Report, bool)
	SetReports(ctx context.Context, userID, variant string, reports []*Report)
	InvalidateReports(ctx context.Context, userID string, variants ...string)
}

type SubmitRequest struct {
	// Responses is the final answer set. Nil submits the stored set.
	Responses  assessment.Responses `json:"responses"`
	Reflection string               `json:"reflection,omitempty"`
}

// SessionService runs the assessment session lifecycle. Writes to one
// session run one at a time, each starting from a fresh load.
type SessionService struct {
	store     SessionStore
	variants  VariantCatalog
	publisher events.Publisher
	cache     ReportCache
	autosave  *Coalescer
	locks     keyedMutex
	now       func() time.Time
}

func NewSessionService(store SessionStore, variants VariantCatalog) *SessionService {
	return &SessionService{
		store:    store,
		variants: variants,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithPublisher sets the destination for lifecycle events.
func (s *SessionService) WithPublisher(p events.Publisher) *SessionService {
	s.publisher = p
	return s
}

// WithCache sets the report history cache invalidated on submit.
func (s *SessionService) WithCache(c ReportCache) *SessionService {
	s.cache = c
	return s
}

// WithAutosave enables QueueProgress through the given coalescer.
func (s *SessionService) WithAutosave(c *Coalescer) *SessionService {
	s.autosave = c
	return s
}

func (s *SessionService) variant(id string) (*assessment.Variant, error) {
	v, ok := s.variants.Get(id)
	if !ok {
		return nil, NewInvalidError("unknown variant " + id)
	}
	return v, nil
}

// load returns the session when it exists and belongs to userID.
func (s *SessionService) load(ctx context.Context, userID, sessionID string) (*Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, NewNotAuthenticatedError()
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, NewSessionNotFoundError()
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, NewPersistenceError("load session", err)
	}
	if sess == nil || sess.UserID != userID {
		return nil, NewSessionNotFoundError()
	}
	if sess.Responses == nil {
		sess.Responses = assessment.Responses{}
	}
	return sess, nil
}

func (s *SessionService) StartSession(ctx context.Context, userID, variantID string) (*Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, NewNotAuthenticatedError()
	}
	v, err := s.variant(variantID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	sess := &Session{
		UserID:            userID,
		Variant:           v.ID,
		Status:            StatusInProgress,
		CompletedLearning: []string{},
		Responses:         assessment.Responses{},
		CreatedAt:         now,
		SavedAt:           now,
	}
	if v.Staged() {
		sess.Stage = StageLearning
	}
	created, err := s.store.CreateSession(ctx, sess)
	if err != nil {
		return nil, NewPersistenceError("create session", err)
	}
	metrics.SessionsStarted.WithLabelValues(v.ID).Inc()
	s.publish(ctx, &events.AssessmentEvent{
		EventType:  events.SessionStarted,
		UserID:     userID,
		SessionID:  created.ID,
		Variant:    v.ID,
		OccurredAt: now,
	})
	return created, nil
}

func (s *SessionService) GetSession(ctx context.Context, userID, sessionID string) (*Session, error) {
	if s.autosave != nil && userID != "" {
		if err := s.autosave.Flush(ctx, sessionID); err != nil {
			log.Printf("sessions: flush queued progress for %s: %v", sessionID, err)
		}
	}
	return s.load(ctx, userID, sessionID)
}

// ResumeSession returns the most recently saved in-progress session of the
// variant.
func (s *SessionService) ResumeSession(ctx context.Context, userID, variantID string) (*Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, NewNotAuthenticatedError()
	}
	if _, err := s.variant(variantID); err != nil {
		return nil, err
	}
	list, err := s.store.ListSessions(ctx, userID, variantID)
	if err != nil {
		return nil, NewPersistenceError("list sessions", err)
	}
	var latest *Session
	for _, sess := range list {
		if sess.UserID != userID || sess.Status != StatusInProgress {
			continue
		}
		if latest == nil || sess.SavedAt.After(latest.SavedAt) ||
			(sess.SavedAt.Equal(latest.SavedAt) && sess.CreatedAt.After(latest.CreatedAt)) {
			latest = sess
		}
	}
	if latest == nil {
		return nil, NewSessionNotFoundError()
	}
	if latest.Responses == nil {
		latest.Responses = assessment.Responses{}
	}
	return latest, nil
}

// SaveProgress replaces the stored response set. Answer shapes are not checked
// here; submission validates them.
func (s *SessionService) SaveProgress(ctx context.Context, userID, sessionID string, update ProgressUpdate) (*Session, error) {
	defer s.locks.Lock(sessionID)()
	sess, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == StatusCompleted {
		return nil, NewAlreadyCompletedError()
	}
	v, err := s.variant(sess.Variant)
	if err != nil {
		return nil, err
	}
	if update.Stage != "" {
		if err := checkStage(v, sess, update.Stage); err != nil {
			return nil, err
		}
		sess.Stage = update.Stage
	}
	if update.Responses != nil {
		sess.Responses = update.Responses.Clone()
	}
	sess.SavedAt = s.now()
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return nil, NewPersistenceError("save progress", err)
	}
	return sess, nil
}

func checkStage(v *assessment.Variant, sess *Session, stage Stage) error {
	if !v.Staged() {
		return NewInvalidError("variant " + v.ID + " has no stages")
	}
	switch stage {
	case StageLearning:
		return nil
	case StageAssessment:
		if missing := missingLearning(v, sess); len(missing) > 0 {
			return NewPrerequisitesIncompleteError("learning items incomplete: " + strings.Join(missing, ", "))
		}
		return nil
	case StageReport:
		return NewInvalidError("stage report is set by submission")
	default:
		return NewInvalidError("unknown stage " + string(stage))
	}
}

func missingLearning(v *assessment.Variant, sess *Session) []string {
	done := make(map[string]bool, len(sess.CompletedLearning))
	for _, id := range sess.CompletedLearning {
		done[id] = true
	}
	var missing []string
	for _, it := range v.Learning {
		if !done[it.ID] {
			missing = append(missing, it.ID)
		}
	}
	return missing
}

// QueueProgress schedules a debounced SaveProgress. Without a coalescer the
// save runs immediately.
func (s *SessionService) QueueProgress(ctx context.Context, userID, sessionID string, update ProgressUpdate) (queued bool, err error) {
	if strings.TrimSpace(userID) == "" {
		return false, NewNotAuthenticatedError()
	}
	if s.autosave == nil {
		_, err := s.SaveProgress(ctx, userID, sessionID, update)
		return false, err
	}
	snapshot := ProgressUpdate{Stage: update.Stage}
	if update.Responses != nil {
		snapshot.Responses = update.Responses.Clone()
	}
	err = s.autosave.Submit(sessionID, func(ctx context.Context) error {
		_, err := s.SaveProgress(ctx, userID, sessionID, snapshot)
		return err
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// CompleteLearningItem marks a learning item done and advances the stage once
// every item is complete.
func (s *SessionService) CompleteLearningItem(ctx context.Context, userID, sessionID, itemID string) (*Session, error) {
	defer s.locks.Lock(sessionID)()
	sess, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == StatusCompleted {
		return nil, NewAlreadyCompletedError()
	}
	v, err := s.variant(sess.Variant)
	if err != nil {
		return nil, err
	}
	if !v.HasLearningItem(itemID) {
		return nil, NewInvalidError("unknown learning item " + itemID)
	}
	for _, id := range sess.CompletedLearning {
		if id == itemID {
			return sess, nil
		}
	}
	sess.CompletedLearning = append(sess.CompletedLearning, itemID)
	if sess.Stage == StageLearning && len(missingLearning(v, sess)) == 0 {
		sess.Stage = StageAssessment
	}
	sess.SavedAt = s.now()
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return nil, NewPersistenceError("save learning progress", err)
	}
	return sess, nil
}

// Submit validates, scores and completes a session.
func (s *SessionService) Submit(ctx context.Context, userID, sessionID string, req SubmitRequest) (*ReportView, error) {
	defer s.locks.Lock(sessionID)()
	sess, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == StatusCompleted {
		return nil, NewAlreadyCompletedError()
	}
	v, err := s.variant(sess.Variant)
	if err != nil {
		return nil, err
	}

	if missing := missingLearning(v, sess); len(missing) > 0 {
		metrics.Submissions.WithLabelValues(v.ID, "rejected").Inc()
		return nil, NewPrerequisitesIncompleteError("learning items incomplete: " + strings.Join(missing, ", "))
	}
	responses := sess.Responses
	if req.Responses != nil {
		responses = req.Responses.Clone()
	}
	if problems := assessment.Validate(responses, v); len(problems) > 0 {
		metrics.Submissions.WithLabelValues(v.ID, "rejected").Inc()
		return nil, NewValidationError(problems)
	}

	existing, err := s.store.FindReportBySession(ctx, sess.ID)
	if err != nil {
		return nil, NewPersistenceError("check existing report", err)
	}
	if existing != nil {
		return s.repairCompletion(ctx, sess, v, existing)
	}

	if s.autosave != nil && s.autosave.Cancel(sess.ID) {
		log.Printf("sessions: dropped queued progress for submitted session %s", sess.ID)
	}

	prior, err := s.store.ListReports(ctx, userID, v.ID)
	if err != nil {
		metrics.Submissions.WithLabelValues(v.ID, "failed").Inc()
		return nil, NewPersistenceError("read history", err)
	}
	history, sequence := historyOf(prior)

	res := assessment.Score(responses, v)
	view := assessment.BuildReport(res, v, strings.TrimSpace(req.Reflection), history)
	now := s.now()
	report, err := s.store.CreateReport(ctx, &Report{
		UserID:          userID,
		SessionID:       sess.ID,
		Variant:         v.ID,
		Sequence:        sequence,
		Score:           res.Total,
		Category:        res.Category,
		Topics:          res.Topics,
		Flags:           res.Flags,
		Recommendations: view.Recommendations,
		Reflection:      view.Reflection,
		CreatedAt:       now,
	})
	if errors.Is(err, ErrDuplicateReport) {
		metrics.Submissions.WithLabelValues(v.ID, "rejected").Inc()
		return nil, NewAlreadyCompletedError()
	}
	if err != nil {
		metrics.Submissions.WithLabelValues(v.ID, "failed").Inc()
		return nil, NewPersistenceError("create report", err)
	}

	sess.Responses = responses
	if err := s.complete(ctx, sess, v, report.ID, now); err != nil {
		metrics.Submissions.WithLabelValues(v.ID, "failed").Inc()
		return nil, err
	}

	metrics.Submissions.WithLabelValues(v.ID, "created").Inc()
	metrics.ReportsByCategory.WithLabelValues(v.ID, res.Category).Inc()
	if s.cache != nil {
		s.cache.InvalidateReports(ctx, userID, v.ID)
	}
	s.publish(ctx, &events.AssessmentEvent{
		EventType:  events.ReportCreated,
		UserID:     userID,
		SessionID:  sess.ID,
		Variant:    v.ID,
		ReportID:   report.ID,
		Score:      res.Total,
		Category:   res.Category,
		Escalated:  assessment.Categorize(res.Total, v.Bands).Escalate,
		OccurredAt: now,
	})
	return newReportView(report, view), nil
}

func (s *SessionService) complete(ctx context.Context, sess *Session, v *assessment.Variant, reportID string, at time.Time) error {
	sess.Status = StatusCompleted
	sess.CompletedAt = &at
	sess.SavedAt = at
	sess.ReportID = reportID
	if v.Staged() {
		sess.Stage = StageReport
	}
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return NewPersistenceError("complete session", err)
	}
	return nil
}

// repairCompletion finishes a submission whose report was stored but whose
// session update failed.
func (s *SessionService) repairCompletion(ctx context.Context, sess *Session, v *assessment.Variant, report *Report) (*ReportView, error) {
	log.Printf("sessions: completing session %s from existing report %s", sess.ID, report.ID)
	if err := s.complete(ctx, sess, v, report.ID, report.CreatedAt); err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.InvalidateReports(ctx, sess.UserID, v.ID)
	}
	prior, err := s.store.ListReports(ctx, sess.UserID, v.ID)
	if err != nil {
		return nil, NewPersistenceError("read history", err)
	}
	return buildStoredView(report, prior), nil
}

func (s *SessionService) publish(ctx context.Context, ev *events.AssessmentEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishAssessmentEvent(ctx, ev); err != nil {
		log.Printf("sessions: publish %s for session %s: %v", ev.EventType, ev.SessionID, err)
	}
}

// historyOf sorts prior reports into trend points and returns the next
// attempt number.
func historyOf(prior []*Report) ([]assessment.HistoryPoint, int) {
	points := make([]assessment.HistoryPoint, 0, len(prior))
	next := 1
	for _, r := range prior {
		points = append(points, r.HistoryPoint())
		if r.Sequence >= next {
			next = r.Sequence + 1
		}
	}
	assessment.SortHistory(points)
	return points, next
}

func newReportView(r *Report, view assessment.ReportView) *ReportView {
	return &ReportView{
		ReportID:   r.ID,
		SessionID:  r.SessionID,
		Variant:    r.Variant,
		Sequence:   r.Sequence,
		CreatedAt:  r.CreatedAt,
		ReportView: view,
	}
}

// buildStoredView rebuilds the view of a stored report from the reports that
// precede it. Recommendations are taken from the record, not recomputed.
func buildStoredView(r *Report, all []*Report) *ReportView {
	var earlier []*Report
	for _, other := range all {
		if other.ID == r.ID || other.Variant != r.Variant {
			continue
		}
		if before(other, r) {
			earlier = append(earlier, other)
		}
	}
	history, _ := historyOf(earlier)
	return newReportView(r, assessment.ReportView{
		Result: assessment.Result{
			Total:    r.Score,
			Topics:   r.Topics,
			Flags:    r.Flags,
			Category: r.Category,
		},
		Recommendations: r.Recommendations,
		Reflection:      r.Reflection,
		Trend:           assessment.BuildTrend(history, r.Score),
	})
}

func before(a, b *Report) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Sequence < b.Sequence
}

// sortReports orders reports by creation time, then sequence.
func sortReports(list []*Report) {
	sort.SliceStable(list, func(i, j int) bool { return before(list[i], list[j]) })
}
