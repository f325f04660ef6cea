// Package api provides the HTTP API server for sitekiln.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	apierrors "github.com/narvanalabs/sitekiln/internal/api/errors"
	"github.com/narvanalabs/sitekiln/internal/api/handlers"
	"github.com/narvanalabs/sitekiln/internal/api/health"
	"github.com/narvanalabs/sitekiln/internal/api/middleware"
	"github.com/narvanalabs/sitekiln/internal/auth"
	"github.com/narvanalabs/sitekiln/internal/cleanup"
	"github.com/narvanalabs/sitekiln/internal/events"
	"github.com/narvanalabs/sitekiln/internal/integrations/github"
	"github.com/narvanalabs/sitekiln/internal/queue"
	"github.com/narvanalabs/sitekiln/internal/quota"
	"github.com/narvanalabs/sitekiln/internal/secrets"
	"github.com/narvanalabs/sitekiln/internal/store"
	"github.com/narvanalabs/sitekiln/internal/telemetry"
	"github.com/narvanalabs/sitekiln/internal/templates"
	"github.com/narvanalabs/sitekiln/internal/webhook"
	"github.com/narvanalabs/sitekiln/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
)

// Version is the current version of the API server.
// This should be set at build time using ldflags.
var Version = "dev"

// ServiceName names the API in traces.
const ServiceName = "sitekiln-api"

// Request rate limits per client IP.
const (
	loginRequestsPerMinute   = 10
	webhookRequestsPerMinute = 120
)

// Server represents the HTTP API server.
type Server struct {
	router        chi.Router
	httpServer    *http.Server
	store         store.Store
	queue         queue.Queue
	auth          *auth.Service
	templates     *templates.Store
	quota         *quota.Service
	sealer        *secrets.Sealer
	github        *github.Client
	reconciler    *webhook.Reconciler
	events        events.Publisher
	registry      *prometheus.Registry
	config        *config.Config
	logger        *slog.Logger
	healthChecker *health.Checker
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithEvents publishes job lifecycle events through pub.
func WithEvents(pub events.Publisher) Option {
	return func(s *Server) { s.events = pub }
}

// WithRegistry serves reg on /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// NewServer creates a new API server with the given dependencies.
func NewServer(
	cfg *config.Config,
	st store.Store,
	q queue.Queue,
	authSvc *auth.Service,
	tpl *templates.Store,
	logger *slog.Logger,
	opts ...Option,
) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		store:     st,
		queue:     q,
		auth:      authSvc,
		templates: tpl,
		events:    events.Nop{},
		config:    cfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = telemetry.NewRegistry()
	}

	s.healthChecker = health.NewChecker(st, Version)
	s.healthChecker.WatchQueue(st.Jobs())
	s.healthChecker.WatchDirs(tpl.Dir(), cfg.BuildsDir)

	s.quota = quota.NewService(st.Users(), cfg.DailyBuildQuota)

	sealer, err := secrets.NewSealer(secrets.Config{AgePublicKey: cfg.SOPS.AgePublicKey}, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing env sealer: %w", err)
	}
	if !sealer.CanSeal() {
		logger.Warn("no age public key configured, env payloads will be stored without encryption")
	}
	s.sealer = sealer

	s.github = github.NewClient(github.Config{
		BaseURL:  cfg.GitHub.APIURL,
		Token:    cfg.GitHub.Token,
		Workflow: cfg.GitHub.Workflow,
	})
	if !s.github.Configured() {
		logger.Warn("GITHUB_TOKEN not set, builds of GitHub templates are disabled")
	}
	if cfg.GitHub.WebhookSecret == "" {
		logger.Warn("WEBHOOK_SECRET not set, build callbacks will be rejected")
	}

	pruner, err := cleanup.NewService(st.Artifacts(), cleanup.Settings{
		ArtifactRetention: cfg.ArtifactRetention,
		ScratchMaxAge:     cfg.Worker.ScratchMaxAge,
	}, logger.With("component", "cleanup"))
	if err != nil {
		return nil, fmt.Errorf("initializing artifact retention: %w", err)
	}
	s.reconciler = webhook.NewReconciler(st, pruner, s.events, logger.With("component", "webhook"))

	s.setupRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery(s.logger))
	r.Use(telemetry.Middleware(ServiceName))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))
	r.Use(chimiddleware.Timeout(60 * time.Second))

	// Health and metrics endpoints (no auth required)
	r.Get("/health", s.healthChecker.Handler())
	r.Method(http.MethodGet, "/metrics", telemetry.MetricsHandler(s.registry))

	// Auth routes (no auth required)
	authHandler := handlers.NewAuthHandler(s.store.Users(), s.auth, s.logger)
	r.Route("/auth", func(r chi.Router) {
		r.Use(rateLimit(loginRequestsPerMinute))
		r.Post("/login", authHandler.Login)
	})

	// Build callbacks are authenticated by signature, not by token.
	webhookHandler := handlers.NewWebhookHandler(s.config.GitHub.WebhookSecret, s.reconciler, s.logger)
	r.Route("/webhooks", func(r chi.Router) {
		r.Use(rateLimit(webhookRequestsPerMinute))
		r.Post("/build", webhookHandler.Build)
	})

	// API v1 routes (auth required)
	authMiddleware := middleware.NewAuthMiddleware(s.auth, s.logger)
	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		var dispatcher handlers.Dispatcher
		if s.github.Configured() {
			dispatcher = s.github
		}
		jobHandler := handlers.NewJobHandler(s.store, s.queue, s.templates, s.quota, s.sealer, dispatcher, s.events, s.logger)
		r.Route("/jobs", func(r chi.Router) {
			r.With(middleware.RequirePermission(auth.PermissionBuild, s.logger)).Post("/", jobHandler.Create)
			r.Get("/", jobHandler.List)
			r.Get("/{jobID}", jobHandler.Get)
		})

		artifactHandler := handlers.NewArtifactHandler(s.store.Artifacts(), s.logger)
		r.Route("/artifacts", func(r chi.Router) {
			r.Get("/", artifactHandler.List)
			r.Get("/{artifactID}/download", artifactHandler.Download)
		})

		quotaHandler := handlers.NewQuotaHandler(s.store.Users(), s.quota, s.logger)
		r.Get("/quota", quotaHandler.Get)

		profileHandler := handlers.NewProfileHandler(s.store.Profiles(), s.logger)
		r.Route("/profile", func(r chi.Router) {
			r.Get("/", profileHandler.Get)
			r.Put("/", profileHandler.Put)
		})

		templateHandler := handlers.NewTemplateHandler(s.templates, s.github, s.config.MaxUploadBytes, s.logger)
		r.Route("/templates", func(r chi.Router) {
			r.With(middleware.RequirePermission(auth.PermissionViewTemplates, s.logger)).Get("/", templateHandler.List)

			// Template management (admin only)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequirePermission(auth.PermissionManageTemplates, s.logger))
				r.Post("/", templateHandler.Upload)
				r.Post("/github", templateHandler.RegisterGitHub)
				r.Patch("/{name}", templateHandler.Rename)
				r.Delete("/{name}", templateHandler.Delete)
			})
		})
	})

	s.router = r
}

// rateLimit limits requests per client IP and answers with the JSON error
// envelope once the limit is hit.
func rateLimit(perMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(apierrors.WriteRateLimited),
	)
}

// Start starts the HTTP server and blocks until it stops or ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting API server", "addr", s.httpServer.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return nil
	}
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// HTTPServer returns the underlying server for the shutdown coordinator.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Router returns the chi router for testing purposes.
func (s *Server) Router() chi.Router {
	return s.router
}
