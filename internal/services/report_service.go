package services

import (
	"context"
	"strings"

	"github.com/soaringjerry/Mindwell/internal/assessment"
)

// ReportStore abstracts persistence required by ReportService.
type ReportStore interface {
	GetReport(ctx context.Context, id string) (*Report, error)
	ListReports(ctx context.Context, userID, variant string) ([]*Report, error)
}

// History is a user's ordered reports. Trend is only set for a single variant.
type History struct {
	Variant string                  `json:"variant,omitempty"`
	Reports []*Report               `json:"reports"`
	Trend   []assessment.TrendPoint `json:"trend,omitempty"`
}

type ReportService struct {
	store ReportStore
	cache ReportCache
}

func NewReportService(store ReportStore) *ReportService {
	return &ReportService{store: store}
}

func (s *ReportService) WithCache(c ReportCache) *ReportService {
	s.cache = c
	return s
}

func (s *ReportService) list(ctx context.Context, userID, variant string) ([]*Report, error) {
	if s.cache != nil {
		if cached, ok := s.cache.GetReports(ctx, userID, variant); ok {
			return cached, nil
		}
	}
	reports, err := s.store.ListReports(ctx, userID, variant)
	if err != nil {
		return nil, NewPersistenceError("list reports", err)
	}
	owned := make([]*Report, 0, len(reports))
	for _, r := range reports {
		if r.UserID == userID {
			owned = append(owned, r)
		}
	}
	sortReports(owned)
	if s.cache != nil {
		s.cache.SetReports(ctx, userID, variant, owned)
	}
	return owned, nil
}

// ListReports returns the caller's reports oldest first.
func (s *ReportService) ListReports(ctx context.Context, userID, variant string) (*History, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, NewNotAuthenticatedError()
	}
	reports, err := s.list(ctx, userID, variant)
	if err != nil {
		return nil, err
	}
	h := &History{Variant: variant, Reports: reports}
	if variant != "" && len(reports) > 0 {
		last := len(reports) - 1
		prior := make([]assessment.HistoryPoint, 0, last)
		for _, r := range reports[:last] {
			prior = append(prior, r.HistoryPoint())
		}
		h.Trend = assessment.BuildTrend(prior, reports[last].Score)
	}
	return h, nil
}

// GetReport returns one of the caller's reports with the trend up to it.
func (s *ReportService) GetReport(ctx context.Context, userID, reportID string) (*ReportView, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, NewNotAuthenticatedError()
	}
	r, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, NewPersistenceError("load report", err)
	}
	if r == nil || r.UserID != userID {
		return nil, NewNotFoundError("report not found")
	}
	all, err := s.list(ctx, userID, r.Variant)
	if err != nil {
		return nil, err
	}
	return buildStoredView(r, all), nil
}

// ExportCSV renders the caller's reports. Format is "wide" (default) or "long".
func (s *ReportService) ExportCSV(ctx context.Context, userID, variant, format string) ([]byte, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, NewNotAuthenticatedError()
	}
	reports, err := s.list(ctx, userID, variant)
	if err != nil {
		return nil, err
	}
	switch format {
	case "", "wide":
		return ExportReportsWideCSV(reports)
	case "long":
		return ExportTopicsLongCSV(reports)
	default:
		return nil, NewInvalidError("unsupported format " + format)
	}
}
