package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/soaringjerry/Mindwell/internal/db"
	"github.com/soaringjerry/Mindwell/internal/services"
)

// sessionStoreAdapter keeps sessions and reports in two collections of the
// document store.
type sessionStoreAdapter struct {
	store Store
}

func newSessionStoreAdapter(store Store) *sessionStoreAdapter {
	return &sessionStoreAdapter{store: store}
}

func decodeOne[T any](doc db.Document) (*T, error) {
	var v T
	if err := doc.Decode(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeAll[T any](docs []db.Document) ([]*T, error) {
	out := make([]*T, 0, len(docs))
	for _, d := range docs {
		v, err := decodeOne[T](d)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (a *sessionStoreAdapter) CreateSession(ctx context.Context, s *services.Session) (*services.Session, error) {
	if s == nil {
		return nil, services.NewInvalidError("session required")
	}
	id, err := a.store.Create(ctx, services.SessionsCollection, s)
	if err != nil {
		return nil, err
	}
	cp := *s
	cp.ID = id
	return &cp, nil
}

func (a *sessionStoreAdapter) UpdateSession(ctx context.Context, s *services.Session) error {
	if s == nil || s.ID == "" {
		return services.NewInvalidError("session id required")
	}
	return a.store.Upsert(ctx, services.SessionsCollection, s.ID, s)
}

func (a *sessionStoreAdapter) GetSession(ctx context.Context, id string) (*services.Session, error) {
	doc, err := a.store.Get(ctx, services.SessionsCollection, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s, err := decodeOne[services.Session](doc)
	if err != nil {
		return nil, err
	}
	s.ID = doc.ID()
	return s, nil
}

func (a *sessionStoreAdapter) ListSessions(ctx context.Context, userID, variant string) ([]*services.Session, error) {
	docs, err := a.store.Query(ctx, services.SessionsCollection, db.Filter{"user_id": userID, "variant": variant})
	if err != nil {
		return nil, err
	}
	return decodeAll[services.Session](docs)
}

func (a *sessionStoreAdapter) CreateReport(ctx context.Context, r *services.Report) (*services.Report, error) {
	if r == nil {
		return nil, services.NewInvalidError("report required")
	}
	id, err := a.store.Create(ctx, services.ReportsCollection, r)
	if errors.Is(err, db.ErrDuplicate) {
		return nil, fmt.Errorf("%w: %v", services.ErrDuplicateReport, err)
	}
	if err != nil {
		return nil, err
	}
	cp := *r
	cp.ID = id
	return &cp, nil
}

func (a *sessionStoreAdapter) FindReportBySession(ctx context.Context, sessionID string) (*services.Report, error) {
	docs, err := a.store.Query(ctx, services.ReportsCollection, db.Filter{"session_id": sessionID})
	if err != nil {
		return nil, err
	}
	reports, err := decodeAll[services.Report](docs)
	if err != nil || len(reports) == 0 {
		return nil, err
	}
	first := reports[0]
	for _, r := range reports[1:] {
		if r.CreatedAt.Before(first.CreatedAt) {
			first = r
		}
	}
	return first, nil
}

func (a *sessionStoreAdapter) ListReports(ctx context.Context, userID, variant string) ([]*services.Report, error) {
	filter := db.Filter{"user_id": userID}
	if variant != "" {
		filter["variant"] = variant
	}
	docs, err := a.store.Query(ctx, services.ReportsCollection, filter)
	if err != nil {
		return nil, err
	}
	return decodeAll[services.Report](docs)
}

func (a *sessionStoreAdapter) GetReport(ctx context.Context, id string) (*services.Report, error) {
	doc, err := a.store.Get(ctx, services.ReportsCollection, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r, err := decodeOne[services.Report](doc)
	if err != nil {
		return nil, err
	}
	r.ID = doc.ID()
	return r, nil
}

var (
	_ services.SessionStore = (*sessionStoreAdapter)(nil)
	_ services.ReportStore  = (*sessionStoreAdapter)(nil)
)
