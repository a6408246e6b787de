package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soaringjerry/Mindwell/internal/assessment"
	"github.com/soaringjerry/Mindwell/internal/events"
)

type stubSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	reports  map[string]*Report
	nextID   int

	createReportErr error
	findErr         error
	updateErr       func(s *Session) error
	updates         int

	// beforeUpdate and beforeList run outside mu so they may block.
	beforeUpdate func(s *Session)
	beforeList   func()
}

func newStubSessionStore() *stubSessionStore {
	return &stubSessionStore{sessions: map[string]*Session{}, reports: map[string]*Report{}}
}

func cloneSession(s *Session) *Session {
	cp := *s
	cp.Responses = s.Responses.Clone()
	cp.CompletedLearning = append([]string{}, s.CompletedLearning...)
	return &cp
}

func (s *stubSessionStore) id(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s%d", prefix, s.nextID)
}

func (s *stubSessionStore) CreateSession(_ context.Context, sess *Session) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneSession(sess)
	cp.ID = s.id("S")
	s.sessions[cp.ID] = cp
	return cloneSession(cp), nil
}

func (s *stubSessionStore) UpdateSession(_ context.Context, sess *Session) error {
	if s.beforeUpdate != nil {
		s.beforeUpdate(sess)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		if err := s.updateErr(sess); err != nil {
			return err
		}
	}
	s.updates++
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (s *stubSessionStore) GetSession(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return cloneSession(sess), nil
	}
	return nil, nil
}

func (s *stubSessionStore) ListSessions(_ context.Context, userID, variant string) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Session
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.Variant == variant {
			out = append(out, cloneSession(sess))
		}
	}
	return out, nil
}

func (s *stubSessionStore) CreateReport(_ context.Context, r *Report) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createReportErr != nil {
		return nil, s.createReportErr
	}
	cp := *r
	cp.ID = s.id("R")
	s.reports[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *stubSessionStore) FindReportBySession(_ context.Context, sessionID string) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, r := range s.reports {
		if r.SessionID == sessionID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *stubSessionStore) ListReports(_ context.Context, userID, variant string) ([]*Report, error) {
	if s.beforeList != nil {
		s.beforeList()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Report
	for _, r := range s.reports {
		if r.UserID == userID && (variant == "" || r.Variant == variant) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *stubSessionStore) GetReport(_ context.Context, id string) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.reports[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

type stubCache struct {
	invalidated []string
}

func (c *stubCache) GetReports(context.Context, string, string) ([]*Report, bool) { return nil, false }

func (c *stubCache) SetReports(context.Context, string, string, []*Report) {}

func (c *stubCache) InvalidateReports(_ context.Context, userID string, variants ...string) {
	for _, v := range variants {
		c.invalidated = append(c.invalidated, userID+"/"+v)
	}
}

type sessionFixture struct {
	svc       *SessionService
	store     *stubSessionStore
	publisher *events.MockPublisher
	cache     *stubCache
	clock     time.Time
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	catalog, err := assessment.LoadCatalog("")
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	f := &sessionFixture{
		store:     newStubSessionStore(),
		publisher: events.NewMockPublisher(),
		cache:     &stubCache{},
		clock:     time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC),
	}
	f.svc = NewSessionService(f.store, catalog).WithPublisher(f.publisher).WithCache(f.cache)
	f.svc.now = func() time.Time {
		f.clock = f.clock.Add(time.Minute)
		return f.clock
	}
	return f
}

func stressAnswers(vals ...int) assessment.Responses {
	r := assessment.Responses{}
	for i, v := range vals {
		r[fmt.Sprintf("s%d", i+1)] = assessment.Int(v)
	}
	return r
}

func studyAnswers() assessment.Responses {
	return assessment.Responses{
		"retrieval_mcq": assessment.String("Testing yourself"),
		"spacing_multi": assessment.Strings("Reviewing a topic one day and again a week later", "Short reviews spread across the term"),
		"time_scenario": assessment.String("List tasks with deadlines and schedule them"),
		"study_plan":    assessment.String("Flashcards every evening"),
	}
}

func expectCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	se, ok := AsServiceError(err)
	if !ok || se.Code != code {
		t.Fatalf("expected %s error, got %v", code, err)
	}
}

func TestStartSession(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.svc.StartSession(ctx, "", "stress-check")
	expectCode(t, err, ErrorNotAuthenticated)
	_, err = f.svc.StartSession(ctx, "u1", "nope")
	expectCode(t, err, ErrorInvalid)

	sess, err := f.svc.StartSession(ctx, "u1", "stress-check")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if sess.ID == "" || sess.Status != StatusInProgress || sess.Stage != "" || len(sess.Responses) != 0 {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if !sess.CreatedAt.Equal(sess.SavedAt) {
		t.Fatalf("created_at and saved_at should match on start")
	}

	staged, err := f.svc.StartSession(ctx, "u1", "study-skills")
	if err != nil {
		t.Fatalf("StartSession staged: %v", err)
	}
	if staged.Stage != StageLearning {
		t.Fatalf("stage = %q, want learning", staged.Stage)
	}

	evs := f.publisher.GetEvents()
	if len(evs) != 2 || evs[0].EventType != events.SessionStarted || evs[0].SessionID != sess.ID {
		t.Fatalf("unexpected events: %+v", evs)
	}
}

func TestSaveProgressLastWriteWins(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	sess, _ := f.svc.StartSession(ctx, "u1", "stress-check")

	if _, err := f.svc.SaveProgress(ctx, "u1", sess.ID, ProgressUpdate{Responses: stressAnswers(1, 2)}); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}
	// Answer shapes are not enforced while saving.
	second := assessment.Responses{"s1": assessment.String("three")}
	saved, err := f.svc.SaveProgress(ctx, "u1", sess.ID, ProgressUpdate{Responses: second})
	if err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}
	if !saved.SavedAt.After(sess.SavedAt) {
		t.Fatalf("saved_at not advanced")
	}

	got, err := f.svc.GetSession(ctx, "u1", sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(got.Responses) != 1 || *got.Responses["s1"].Text != "three" {
		t.Fatalf("expected whole set replaced, got %+v", got.Responses)
	}

	// A nil response set keeps what is stored.
	if _, err := f.svc.SaveProgress(ctx, "u1", sess.ID, ProgressUpdate{}); err != nil {
		t.Fatalf("SaveProgress nil: %v", err)
	}
	got, _ = f.svc.GetSession(ctx, "u1", sess.ID)
	if len(got.Responses) != 1 {
		t.Fatalf("nil update should keep responses")
	}
}

func TestSaveProgressOwnershipAndStages(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	sess, _ := f.svc.StartSession(ctx, "u1", "stress-check")
	staged, _ := f.svc.StartSession(ctx, "u1", "study-skills")

	_, err := f.svc.SaveProgress(ctx, "u2", sess.ID, ProgressUpdate{Responses: stressAnswers(1)})
	expectCode(t, err, ErrorSessionNotFound)
	_, err = f.svc.SaveProgress(ctx, "u1", "missing", ProgressUpdate{})
	expectCode(t, err, ErrorSessionNotFound)
	_, err = f.svc.SaveProgress(ctx, "", sess.ID, ProgressUpdate{})
	expectCode(t, err, ErrorNotAuthenticated)

	_, err = f.svc.SaveProgress(ctx, "u1", sess.ID, ProgressUpdate{Stage: StageAssessment})
	expectCode(t, err, ErrorInvalid)
	_, err = f.svc.SaveProgress(ctx, "u1", staged.ID, ProgressUpdate{Stage: StageAssessment})
	expectCode(t, err, ErrorPrerequisitesIncomplete)
	_, err = f.svc.SaveProgress(ctx, "u1", staged.ID, ProgressUpdate{Stage: StageReport})
	expectCode(t, err, ErrorInvalid)
	if _, err := f.svc.SaveProgress(ctx, "u1", staged.ID, ProgressUpdate{Stage: StageLearning}); err != nil {
		t.Fatalf("stage learning should be accepted: %v", err)
	}
}

func TestCompleteLearningItems(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	sess, _ := f.svc.StartSession(ctx, "u1", "study-skills")

	_, err := f.svc.CompleteLearningItem(ctx, "u1", sess.ID, "bogus")
	expectCode(t, err, ErrorInvalid)

	items := []string{"retrieval", "spacing", "time"}
	for _, id := range items {
		got, err := f.svc.CompleteLearningItem(ctx, "u1", sess.ID, id)
		if err != nil {
			t.Fatalf("CompleteLearningItem(%s): %v", id, err)
		}
		if got.Stage != StageLearning {
			t.Fatalf("stage advanced too early after %s", id)
		}
	}
	again, err := f.svc.CompleteLearningItem(ctx, "u1", sess.ID, "spacing")
	if err != nil || len(again.CompletedLearning) != 3 {
		t.Fatalf("completing twice should be a no-op: %v %+v", err, again)
	}

	_, err = f.svc.Submit(ctx, "u1", sess.ID, SubmitRequest{Responses: studyAnswers()})
	expectCode(t, err, ErrorPrerequisitesIncomplete)
	if len(f.store.reports) != 0 {
		t.Fatalf("gate must be checked before any write")
	}

	done, err := f.svc.CompleteLearningItem(ctx, "u1", sess.ID, "planning")
	if err != nil {
		t.Fatalf("CompleteLearningItem: %v", err)
	}
	if done.Stage != StageAssessment {
		t.Fatalf("stage = %q, want assessment", done.Stage)
	}

	view, err := f.svc.Submit(ctx, "u1", sess.ID, SubmitRequest{Responses: studyAnswers()})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if view.Total != 100 || view.Category != "Expert" {
		t.Fatalf("unexpected report: %+v", view)
	}
	final, _ := f.svc.GetSession(ctx, "u1", sess.ID)
	if final.Stage != StageReport || final.Status != StatusCompleted {
		t.Fatalf("unexpected final session: %+v", final)
	}
}

func TestSubmitCreatesReport(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	sess, _ := f.svc.StartSession(ctx, "u1", "stress-check")

	view, err := f.svc.Submit(ctx, "u1", sess.ID, SubmitRequest{Responses: stressAnswers(3, 3, 3, 3, 3, 3, 3, 3, 3, 3), Reflection: "  rough week "})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if view.Total != 30 || view.Category != "High" || view.Sequence != 1 {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.Reflection != "rough week" {
		t.Fatalf("reflection = %q", view.Reflection)
	}
	if len(view.Trend) != 1 || view.Trend[0].Label != assessment.CurrentAttemptLabel {
		t.Fatalf("unexpected trend: %+v", view.Trend)
	}
	catalog, _ := assessment.LoadCatalog("")
	stress, _ := catalog.Get("stress-check")
	if view.Recommendations[0] != stress.Escalation {
		t.Fatalf("escalation should come first: %v", view.Recommendations)
	}

	stored := f.store.sessions[sess.ID]
	if stored.Status != StatusCompleted || stored.ReportID != view.ReportID || stored.CompletedAt == nil {
		t.Fatalf("session not completed: %+v", stored)
	}
	if len(stored.Responses) != 10 {
		t.Fatalf("final responses not stored")
	}
	if len(f.cache.invalidated) != 1 || f.cache.invalidated[0] != "u1/stress-check" {
		t.Fatalf("cache not invalidated: %v", f.cache.invalidated)
	}
	evs := f.publisher.GetEvents()
	last := evs[len(evs)-1]
	if last.EventType != events.ReportCreated || last.ReportID != view.ReportID || !last.Escalated {
		t.Fatalf("unexpected event: %+v", last)
	}
}

func TestSubmitUsesStoredResponses(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	sess, _ := f.svc.StartSession(ctx, "u1", "stress-check")
	_, _ = f.svc.SaveProgress(ctx, "u1", sess.ID, ProgressUpdate{Responses: stressAnswers(0, 0, 0, 0, 0, 0, 0, 0, 0, 0)})

	view, err := f.svc.Submit(ctx, "u1", sess.ID, SubmitRequest{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if view.Total != 0 || view.Category != "Low" {
		t.Fatalf("unexpected view: %+v", view)
	}
	if len(view.Recommendations) != 1 || view.Recommendations[0] != assessment.KeepGoing {
		t.Fatalf("unexpected recommendations: %v", view.Recommendations)
	}
}

func TestSubmitValidationFailsBeforeWrites(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	sess, _ := f.svc.StartSession(ctx, "u1", "stress-check")
	updatesBefore := f.store.updates

	answers := stressAnswers(1, 1, 1, 1, 1, 1, 1, 1, 1)
	answers["s2"] = assessment.Int(9)
	_, err := f.svc.Submit(ctx, "u1", sess.ID, SubmitRequest{Responses: answers})
	expectCode(t, err, ErrorValidationFailed)

	se, _ := AsServiceError(err)
	if len(se.Details) != 2 || se.Details[0].QuestionID != "s2" || se.Details[1].QuestionID != "s10" {
		t.Fatalf("unexpected details: %+v", se.Details)
	}
	if f.store.updates != updatesBefore || len(f.store.reports) != 0 {
		t.Fatalf("validation failure must not write")
	}
}

func TestDoubleSubmitIsRejected(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	sess, _ := f.svc.StartSession(ctx, "u1", "stress-check")
	answers := stressAnswers(1, 1, 1, 1, 1, 1, 1, 1, 1, 1)

	if _, err := f.svc.Submit(ctx, "u1", sess.ID, SubmitRequest{Responses: answers}); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	_, err := f.svc.Submit(ctx, "u1", sess.ID, SubmitRequest{Responses: answers})
	expectCode(t, err, ErrorAlreadyCompleted)
	if len(f.store.reports) != 1 {
		t.Fatalf("double submit created %d reports", len(f.store.reports))
	}
	_, err = f.svc.SaveProgress(ctx, "u1", sess.ID, ProgressUpdate{Responses: answers})
	expectCode(t, err, ErrorAlreadyCompleted)
	_, err = f.svc.Submit(ctx, "u2", sess.ID, SubmitRequest{Responses: answers})
	expectCode(t, err, ErrorSessionNotFound)
}

func TestConcurrentSubmitsCreateOneReport(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	sess, _ := f.svc.StartSession(ctx, "u1", "stress-check")
	answers := stressAnswers(1, 1, 1, 1, 1, 1, 1, 1, 1, 1)

	// Hold the first submit in its history read long enough for a second one
	// to catch up if it can get past the completed check.
	var entered int32
	both := make(chan struct{})
	f.store.beforeList = func() {
		if atomic.AddInt32(&entered, 1) == 2 {
			close(both)
		}
		select {
		case <-both:
		case <-time.After(50 * time.Millisecond):
		}
	}

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := f.svc.Submit(ctx, "u1", sess.ID, SubmitRequest{Responses: answers})
			errs <- err
		}()
	}
	var ok, rejected int
	for i := 0; i < 2; i++ {
		err := <-errs
		switch {
		case err == nil:
			ok++
		case IsCode(err, ErrorAlreadyCompleted):
			rejected++
		default:
			t.Fatalf("unexpected Submit error: %v", err)
		}
	}
	if ok != 1 || rejected != 1 {
		t.Fatalf("expected one success and one rejection, got %d and %d", ok, rejected)
	}
	if len(f.store.reports) != 1 {
		t.Fatalf("concurrent submits created %d reports", len(f.store.reports))
	}
}

func TestSubmitMapsDuplicateReportToAlreadyCompleted(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	sess, _ := f.svc.StartSession(ctx, "u1", "stress-check")
	f.store.createReportErr = fmt.Errorf("insert document: %w", ErrDuplicateReport)

	_, err := f.svc.Submit(ctx, "u1", sess.ID, SubmitRequest{Responses: stressAnswers(1, 1, 1, 1, 1, 1, 1, 1, 1, 1)})
	expectCode(t, err, ErrorAlreadyCompleted)
}

func TestSubmitChecksAnswersBeforeReportLookup(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.store.findErr = errors.New("reports unavailable")

	sess, _ := f.svc.StartSession(ctx, "u1", "stress-check")
	_, err := f.svc.Submit(ctx, "u1", sess.ID, SubmitRequest{Responses: stressAnswers(1, 1)})
	expectCode(t, err, ErrorValidationFailed)

	staged, _ := f.svc.StartSession(ctx, "u1", "study-skills")
	_, err = f.svc.Submit(ctx, "u1", staged.ID, SubmitRequest{Responses: studyAnswers()})
	expectCode(t, err, ErrorPrerequisitesIncomplete)

	_, err = f.svc.Submit(ctx, "u1", sess.ID, SubmitRequest{Responses: stressAnswers(1, 1, 1, 1, 1, 1, 1, 1, 1, 1)})
	expectCode(t, err, ErrorPersistenceFailed)
}

func TestRetakeBuildsTrend(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	var firstView *ReportView
	var firstSession *Session
	// Scores 10, 15, then 20.
	for i, answers := range []assessment.Responses{
		stressAnswers(1, 1, 1, 1, 1, 1, 1, 1, 1, 1),
		stressAnswers(2, 2, 2, 2, 2, 1, 1, 1, 1, 1),
		stressAnswers(2, 2, 2, 2, 2, 2, 2, 2, 2, 2),
	} {
		sess, err := f.svc.StartSession(ctx, "u1", "stress-check")
		if err != nil {
			t.Fatalf("StartSession: %v", err)
		}
		view, err := f.svc.Submit(ctx, "u1", sess.ID, SubmitRequest{Responses: answers})
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		if view.Sequence != i+1 {
			t.Fatalf("sequence = %d, want %d", view.Sequence, i+1)
		}
		if i == 0 {
			firstView = view
			firstSession = f.store.sessions[sess.ID]
		}
		if i == 2 {
			want := []assessment.TrendPoint{
				{Label: "Attempt 1", Score: 10},
				{Label: "Attempt 2", Score: 15},
				{Label: assessment.CurrentAttemptLabel, Score: 20, Current: true},
			}
			if fmt.Sprint(view.Trend) != fmt.Sprint(want) {
				t.Fatalf("trend = %+v, want %+v", view.Trend, want)
			}
			if view.SessionID == firstView.SessionID || view.ReportID == firstView.ReportID {
				t.Fatalf("retake must create new ids")
			}
		}
	}

	again := f.store.sessions[firstSession.ID]
	if again.ReportID != firstView.ReportID || again.Status != StatusCompleted || !again.SavedAt.Equal(firstSession.SavedAt) {
		t.Fatalf("first session changed by retake: %+v", again)
	}
	if f.store.reports[firstView.ReportID].Score != 10 {
		t.Fatalf("first report changed by retake")
	}
}

func TestSubmitPersistenceFailure(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	sess, _ := f.svc.StartSession(ctx, "u1", "stress-check")
	cause := errors.New("disk full")
	f.store.createReportErr = cause

	_, err := f.svc.Submit(ctx, "u1", sess.ID, SubmitRequest{Responses: stressAnswers(1, 1, 1, 1, 1, 1, 1, 1, 1, 1)})
	expectCode(t, err, ErrorPersistenceFailed)
	if !errors.Is(err, cause) {
		t.Fatalf("cause not exposed through errors.Is: %v", err)
	}
	if f.store.sessions[sess.ID].Status != StatusInProgress {
		t.Fatalf("session must stay in progress")
	}
}

func TestSubmitRecoversFromPartialFailure(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	sess, _ := f.svc.StartSession(ctx, "u1", "stress-check")
	answers := stressAnswers(1, 1, 1, 1, 1, 1, 1, 1, 1, 1)

	f.store.updateErr = func(s *Session) error {
		if s.Status == StatusCompleted {
			return errors.New("write timeout")
		}
		return nil
	}
	_, err := f.svc.Submit(ctx, "u1", sess.ID, SubmitRequest{Responses: answers})
	expectCode(t, err, ErrorPersistenceFailed)
	if len(f.store.reports) != 1 {
		t.Fatalf("report should have been created before the failed update")
	}

	f.store.updateErr = nil
	view, err := f.svc.Submit(ctx, "u1", sess.ID, SubmitRequest{Responses: answers})
	if err != nil {
		t.Fatalf("retry Submit: %v", err)
	}
	if len(f.store.reports) != 1 {
		t.Fatalf("retry created a second report")
	}
	stored := f.store.sessions[sess.ID]
	if stored.Status != StatusCompleted || stored.ReportID != view.ReportID {
		t.Fatalf("session not repaired: %+v", stored)
	}
	if view.Total != 10 || len(view.Trend) != 1 {
		t.Fatalf("unexpected repaired view: %+v", view)
	}
}

func TestResumeSession(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.svc.ResumeSession(ctx, "u1", "stress-check")
	expectCode(t, err, ErrorSessionNotFound)

	old, _ := f.svc.StartSession(ctx, "u1", "stress-check")
	newer, _ := f.svc.StartSession(ctx, "u1", "stress-check")
	_, _ = f.svc.StartSession(ctx, "u2", "stress-check")
	_, _ = f.svc.SaveProgress(ctx, "u1", old.ID, ProgressUpdate{Responses: stressAnswers(2)})

	got, err := f.svc.ResumeSession(ctx, "u1", "stress-check")
	if err != nil {
		t.Fatalf("ResumeSession: %v", err)
	}
	if got.ID != old.ID {
		t.Fatalf("expected most recently saved session %s, got %s", old.ID, got.ID)
	}

	_, _ = f.svc.Submit(ctx, "u1", old.ID, SubmitRequest{Responses: stressAnswers(0, 0, 0, 0, 0, 0, 0, 0, 0, 0)})
	got, err = f.svc.ResumeSession(ctx, "u1", "stress-check")
	if err != nil || got.ID != newer.ID {
		t.Fatalf("expected %s after completing the other, got %v %v", newer.ID, got, err)
	}
}

func TestQueueProgressCoalesces(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	co := NewCoalescer(time.Hour, nil)
	f.svc.WithAutosave(co)
	sess, _ := f.svc.StartSession(ctx, "u1", "stress-check")
	updatesBefore := f.store.updates

	for i := 0; i <= 3; i++ {
		queued, err := f.svc.QueueProgress(ctx, "u1", sess.ID, ProgressUpdate{Responses: stressAnswers(i)})
		if err != nil || !queued {
			t.Fatalf("QueueProgress: %v %v", queued, err)
		}
	}
	if f.store.updates != updatesBefore {
		t.Fatalf("queued saves should not write yet")
	}

	got, err := f.svc.GetSession(ctx, "u1", sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if f.store.updates != updatesBefore+1 {
		t.Fatalf("expected exactly one coalesced write, got %d", f.store.updates-updatesBefore)
	}
	if *got.Responses["s1"].Number != 3 {
		t.Fatalf("expected latest queued answer, got %+v", got.Responses)
	}
}

func TestSubmitCancelsQueuedProgress(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	co := NewCoalescer(time.Hour, nil)
	f.svc.WithAutosave(co)
	sess, _ := f.svc.StartSession(ctx, "u1", "stress-check")

	if _, err := f.svc.QueueProgress(ctx, "u1", sess.ID, ProgressUpdate{Responses: stressAnswers(3)}); err != nil {
		t.Fatalf("QueueProgress: %v", err)
	}
	if _, err := f.svc.Submit(ctx, "u1", sess.ID, SubmitRequest{Responses: stressAnswers(1, 1, 1, 1, 1, 1, 1, 1, 1, 1)}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if co.Pending(sess.ID) {
		t.Fatalf("queued save should be cancelled by submit")
	}
	if err := co.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	stored := f.store.sessions[sess.ID]
	if stored.Status != StatusCompleted || *stored.Responses["s1"].Number != 1 {
		t.Fatalf("completed session overwritten: %+v", stored)
	}
}

func TestInFlightAutosaveDoesNotReopenSubmittedSession(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	co := NewCoalescer(time.Hour, nil)
	f.svc.WithAutosave(co)
	sess, _ := f.svc.StartSession(ctx, "u1", "stress-check")

	if _, err := f.svc.QueueProgress(ctx, "u1", sess.ID, ProgressUpdate{Responses: stressAnswers(3)}); err != nil {
		t.Fatalf("QueueProgress: %v", err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.store.beforeUpdate = func(s *Session) {
		if s.Status == StatusInProgress {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
	}

	flushed := make(chan error, 1)
	go func() { flushed <- co.Flush(ctx, sess.ID) }()
	<-entered

	submitted := make(chan error, 1)
	go func() {
		_, err := f.svc.Submit(ctx, "u1", sess.ID, SubmitRequest{Responses: stressAnswers(1, 1, 1, 1, 1, 1, 1, 1, 1, 1)})
		submitted <- err
	}()
	select {
	case err := <-submitted:
		t.Fatalf("Submit finished while the autosave write was in flight: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	close(release)

	if err := <-flushed; err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := <-submitted; err != nil {
		t.Fatalf("Submit: %v", err)
	}
	stored := f.store.sessions[sess.ID]
	if stored.Status != StatusCompleted || *stored.Responses["s1"].Number != 1 {
		t.Fatalf("completed session overwritten: %+v", stored)
	}

	// A save that only starts after completion is refused.
	if _, err := f.svc.QueueProgress(ctx, "u1", sess.ID, ProgressUpdate{Responses: stressAnswers(2)}); err != nil {
		t.Fatalf("QueueProgress: %v", err)
	}
	expectCode(t, co.Flush(ctx, sess.ID), ErrorAlreadyCompleted)
	if stored := f.store.sessions[sess.ID]; stored.Status != StatusCompleted || *stored.Responses["s1"].Number != 1 {
		t.Fatalf("late autosave changed a completed session: %+v", stored)
	}
	_, err := f.svc.Submit(ctx, "u1", sess.ID, SubmitRequest{Responses: stressAnswers(1, 1, 1, 1, 1, 1, 1, 1, 1, 1)})
	expectCode(t, err, ErrorAlreadyCompleted)
}

func TestQueueProgressWithoutCoalescerSavesNow(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	sess, _ := f.svc.StartSession(ctx, "u1", "stress-check")

	queued, err := f.svc.QueueProgress(ctx, "u1", sess.ID, ProgressUpdate{Responses: stressAnswers(2)})
	if err != nil || queued {
		t.Fatalf("expected direct save, got queued=%v err=%v", queued, err)
	}
	if *f.store.sessions[sess.ID].Responses["s1"].Number != 2 {
		t.Fatalf("direct save not stored")
	}
	_, err = f.svc.QueueProgress(ctx, "", sess.ID, ProgressUpdate{})
	expectCode(t, err, ErrorNotAuthenticated)
}

func TestPublishFailureDoesNotFailSubmit(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	sess, _ := f.svc.StartSession(ctx, "u1", "stress-check")
	f.publisher.Err = errors.New("broker down")

	if _, err := f.svc.Submit(ctx, "u1", sess.ID, SubmitRequest{Responses: stressAnswers(1, 1, 1, 1, 1, 1, 1, 1, 1, 1)}); err != nil {
		t.Fatalf("Submit should succeed when publishing fails: %v", err)
	}
}
