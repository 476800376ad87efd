// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/beaconhq/beacon/internal/config"
	"github.com/beaconhq/beacon/internal/dispatch"
	"github.com/beaconhq/beacon/internal/dispatch/email"
	"github.com/beaconhq/beacon/internal/dispatch/webhook"
	"github.com/beaconhq/beacon/internal/pages"
	pagespostgres "github.com/beaconhq/beacon/internal/pages/postgres"
	"github.com/beaconhq/beacon/internal/pkg/ctxlog"
	"github.com/beaconhq/beacon/internal/pkg/httputil"
	"github.com/beaconhq/beacon/internal/pkg/metrics"
	"github.com/beaconhq/beacon/internal/pkg/postgres"
	"github.com/beaconhq/beacon/internal/status"
	statuspostgres "github.com/beaconhq/beacon/internal/status/postgres"
	"github.com/beaconhq/beacon/internal/subscriptions"
	subscriptionspostgres "github.com/beaconhq/beacon/internal/subscriptions/postgres"
	"github.com/beaconhq/beacon/internal/version"
	"github.com/beaconhq/beacon/migrations"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)

	if cfg.Database.Migrate {
		if err := migrations.Up(cfg.Database.URL); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
	}

	go app.collectDBMetrics(metricsCtx)

	router, err := app.setupRouter()
	if err != nil {
		db.Close()
		metricsCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.db.Close()

	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

func (a *App) setupRouter() (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi.yaml")
	})

	pagesRepo := pagespostgres.NewRepository(a.db)
	subscriptionsRepo := subscriptionspostgres.NewRepository(a.db)
	statusRepo := statuspostgres.NewRepository(a.db)

	registry, err := a.setupChannels()
	if err != nil {
		return nil, err
	}

	dispatcher := dispatch.NewDispatcher(pagesRepo, subscriptionsRepo, statusRepo, registry)

	subscriptionsService := subscriptions.NewService(subscriptionsRepo, pagesRepo, registry)
	subscriptionsHandler := subscriptions.NewHandler(
		subscriptionsService, pagesRepo, registry, a.config.Notifications.BaseURL)

	statusService := status.NewService(statusRepo, pagesRepo, dispatcher)
	statusHandler := status.NewHandler(statusService)

	r.Route("/api/v1", func(r chi.Router) {
		subscriptionsHandler.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(httputil.OperatorAuthMiddleware(a.config.Auth.JWTSecret))
			statusHandler.RegisterRoutes(r)
		})

		r.Get("/pages/{slug}/components", a.listComponentsHandler(pagesRepo))
	})

	return r, nil
}

// setupChannels builds the channel registry. The webhook channel is always
// available; the email channel joins only when SMTP is configured.
func (a *App) setupChannels() (*dispatch.Registry, error) {
	channels := []dispatch.Channel{
		webhook.NewChannel(webhook.Config{
			Timeout:   a.config.Notifications.Webhook.Timeout,
			UserAgent: a.config.Notifications.Webhook.UserAgent,
		}),
	}

	if a.config.Notifications.Email.Enabled {
		mailer, err := email.NewSMTPMailer(email.SMTPConfig{
			Enabled:      true,
			SMTPHost:     a.config.Notifications.Email.SMTPHost,
			SMTPPort:     a.config.Notifications.Email.SMTPPort,
			SMTPUser:     a.config.Notifications.Email.SMTPUser,
			SMTPPassword: a.config.Notifications.Email.SMTPPassword,
			FromAddress:  a.config.Notifications.Email.FromAddress,
			BaseURL:      a.config.Notifications.BaseURL,
			RateLimit:    a.config.Notifications.Email.RateLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("create smtp mailer: %w", err)
		}
		channels = append(channels, email.NewChannel(mailer))
	} else {
		slog.Warn("email channel is disabled: email subscriptions cannot be verified or notified")
	}

	return dispatch.NewRegistry(channels...), nil
}

// listComponentsHandler exposes the component list a subscriber can scope to.
func (a *App) listComponentsHandler(repo pages.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := repo.GetPageBySlug(r.Context(), chi.URLParam(r, "slug"))
		if err != nil {
			httputil.HandleError(r.Context(), w, err, []httputil.ErrorMapping{
				{Error: pages.ErrPageNotFound, Status: http.StatusNotFound, Message: "page not found"},
			})
			return
		}

		components, err := repo.ListComponents(r.Context(), page.ID)
		if err != nil {
			httputil.HandleError(r.Context(), w, err, nil)
			return
		}

		httputil.Success(w, http.StatusOK, components)
	}
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
