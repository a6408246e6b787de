package api

import (
	"net/http"
	"time"

	"github.com/soaringjerry/Mindwell/internal/assessment"
	"github.com/soaringjerry/Mindwell/internal/events"
	"github.com/soaringjerry/Mindwell/internal/middleware"
	"github.com/soaringjerry/Mindwell/internal/services"
)

// Options wires the optional collaborators. Zero values disable them.
type Options struct {
	Publisher  events.Publisher
	Cache      services.ReportCache
	Autosave   *services.Coalescer
	AI         services.AIConfig
	HTTPClient services.HTTPClient
	TokenTTL   time.Duration
}

type Router struct {
	variants   *assessment.Catalog
	sessions   *services.SessionService
	reports    *services.ReportService
	auth       *services.AuthService
	moderation *services.ModerationService
}

func NewRouter(store Store, variants *assessment.Catalog, opts Options) *Router {
	sessionStore := newSessionStoreAdapter(store)

	sessions := services.NewSessionService(sessionStore, variants)
	if opts.Publisher != nil {
		sessions.WithPublisher(opts.Publisher)
	}
	if opts.Cache != nil {
		sessions.WithCache(opts.Cache)
	}
	if opts.Autosave != nil {
		sessions.WithAutosave(opts.Autosave)
	}

	reports := services.NewReportService(sessionStore)
	if opts.Cache != nil {
		reports.WithCache(opts.Cache)
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &Router{
		variants:   variants,
		sessions:   sessions,
		reports:    reports,
		auth:       services.NewAuthService(newAuthStoreAdapter(store), middleware.SignToken).WithTokenTTL(opts.TokenTTL),
		moderation: services.NewModerationService(opts.AI, client).WithReports(sessionStore),
	}
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/register", rt.handleRegister)
	mux.HandleFunc("POST /api/auth/login", rt.handleLogin)

	mux.HandleFunc("GET /api/variants", rt.handleListVariants)
	mux.HandleFunc("GET /api/variants/{id}", rt.handleGetVariant)

	mux.Handle("POST /api/sessions", authed(rt.handleStartSession))
	mux.Handle("GET /api/sessions/resume", authed(rt.handleResumeSession))
	mux.Handle("GET /api/sessions/{id}", authed(rt.handleGetSession))
	mux.Handle("PUT /api/sessions/{id}/progress", authed(rt.handleSaveProgress))
	mux.Handle("POST /api/sessions/{id}/learning", authed(rt.handleCompleteLearning))
	mux.Handle("POST /api/sessions/{id}/submit", authed(rt.handleSubmit))

	mux.Handle("GET /api/reports", authed(rt.handleListReports))
	mux.Handle("GET /api/reports/export", authed(rt.handleExportReports))
	mux.Handle("GET /api/reports/{id}", authed(rt.handleGetReport))

	mux.Handle("POST /api/moderation/summary", authed(rt.handleModerationSummary))
}

// Handler returns the API mux with authentication attached.
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	rt.Register(mux)
	return middleware.WithAuth(mux)
}

func authed(h http.HandlerFunc) http.Handler {
	return middleware.RequireAuth(h)
}
