package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/Mindwell/internal/api"
	"github.com/soaringjerry/Mindwell/internal/assessment"
	"github.com/soaringjerry/Mindwell/internal/cache"
	"github.com/soaringjerry/Mindwell/internal/config"
	"github.com/soaringjerry/Mindwell/internal/db"
	"github.com/soaringjerry/Mindwell/internal/events"
	"github.com/soaringjerry/Mindwell/internal/metrics"
	"github.com/soaringjerry/Mindwell/internal/middleware"
	"github.com/soaringjerry/Mindwell/internal/services"
	"github.com/soaringjerry/Mindwell/internal/utils"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.JWTSecret != "" {
		middleware.SetSecret(cfg.JWTSecret)
	}
	if middleware.UsingDevSecret() {
		log.Printf("warning: MINDWELL_JWT_SECRET is not set, using the development signing key")
	}

	catalog, err := assessment.LoadCatalog(cfg.VariantsDir)
	if err != nil {
		return fmt.Errorf("load variants: %w", err)
	}
	log.Printf("loaded %d assessment variants", len(catalog.List()))

	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("warning: close store: %v", err)
		}
	}()
	if err := api.EnsureIndexes(cmd.Context(), store); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	publisher, err := events.NewAMQPPublisher(cfg.RabbitMQURI, cfg.RabbitMQExchange)
	if err != nil {
		return err
	}
	defer publisher.Close()

	opts := api.Options{
		Publisher: publisher,
		AI: services.AIConfig{
			BaseURL: cfg.AIBaseURL,
			APIKey:  cfg.AIKey,
			Model:   cfg.AIModel,
		},
		TokenTTL: cfg.TokenTTL,
	}
	if cfg.RedisAddr != "" {
		history := cache.NewRedisHistoryCache(cache.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), cfg.HistoryTTL)
		defer history.Close()
		opts.Cache = history
		log.Printf("report history cache enabled at %s", cfg.RedisAddr)
	}
	if cfg.AutosaveWait > 0 {
		opts.Autosave = services.NewCoalescer(cfg.AutosaveWait, func(key string, err error) {
			log.Printf("autosave: session %s: %v", key, err)
		})
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           buildHandler(cfg, api.NewRouter(store, catalog, opts)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Mindwell server listening on %s (store=%s)", cfg.Addr, cfg.Store)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		log.Printf("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("warning: http shutdown: %v", err)
	}
	if opts.Autosave != nil {
		if err := opts.Autosave.Close(shutdownCtx); err != nil {
			log.Printf("warning: flush queued progress: %v", err)
		}
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (api.Store, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		if err := MigrateIfNeeded(cfg.SnapshotPath, cfg.SQLitePath, cfg.MigrationsDir); err != nil {
			log.Printf("warning: snapshot migration failed: %v", err)
		}
		s, err := db.OpenSQLite(cfg.SQLitePath, cfg.MigrationsDir)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		log.Printf("using sqlite store at %s", cfg.SQLitePath)
		return s, nil
	case config.StoreMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		s, err := db.OpenMongo(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("open mongo store: %w", err)
		}
		return s, nil
	default:
		s, err := db.NewMemoryStoreFromPath(cfg.SnapshotPath)
		if err != nil {
			return nil, fmt.Errorf("open memory store: %w", err)
		}
		if cfg.SnapshotPath != "" {
			log.Printf("using memory store with snapshot %s", cfg.SnapshotPath)
		}
		return s, nil
	}
}

// buildHandler mounts the API next to health, version, metrics and the
// frontend, then wraps everything in the middleware chain.
func buildHandler(cfg *config.Config, rt *api.Router) http.Handler {
	mux := http.NewServeMux()
	rt.Register(mux)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		locale := middleware.LocaleFromContext(r.Context())
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":         true,
			"name":       "Mindwell API",
			"locale":     locale,
			"msg":        utils.T(locale, "health.ok"),
			"commit":     cfg.Commit,
			"build_time": cfg.BuildTime,
		})
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"commit":     cfg.Commit,
			"build_time": cfg.BuildTime,
		})
	})
	mux.Handle("GET /metrics", metrics.Handler())

	// Static files win over the dev proxy.
	if cfg.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))
	} else if cfg.DevFrontendURL != "" {
		if u, err := url.Parse(cfg.DevFrontendURL); err == nil {
			rp := httputil.NewSingleHostReverseProxy(u)
			rp.ModifyResponse = func(res *http.Response) error {
				res.Header.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
				res.Header.Set("Pragma", "no-cache")
				res.Header.Set("Expires", "0")
				return nil
			}
			mux.Handle("/", rp)
		} else {
			log.Printf("invalid MINDWELL_DEV_FRONTEND_URL=%q: %v", cfg.DevFrontendURL, err)
		}
	}

	return middleware.Chain(mux,
		middleware.RequestLogger,
		middleware.SecureHeaders,
		middleware.CORS(cfg.CORSOrigins...),
		middleware.NoStore,
		middleware.LocaleMiddleware,
		middleware.WithAuth,
	)
}
