// Package main provides the entry point for the API server.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/narvanalabs/sitekiln/internal/api"
	"github.com/narvanalabs/sitekiln/internal/auth"
	"github.com/narvanalabs/sitekiln/internal/events"
	pgqueue "github.com/narvanalabs/sitekiln/internal/queue/postgres"
	"github.com/narvanalabs/sitekiln/internal/shutdown"
	pgstore "github.com/narvanalabs/sitekiln/internal/store/postgres"
	"github.com/narvanalabs/sitekiln/internal/telemetry"
	"github.com/narvanalabs/sitekiln/internal/templates"
	"github.com/narvanalabs/sitekiln/pkg/config"
	"github.com/narvanalabs/sitekiln/pkg/logger"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Warn("failed to load .env file", "error", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	log, closeLog, err := logger.NewFromOptions(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		slog.Error("failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.InitTracer(ctx, api.ServiceName, cfg.Tracing)
	if err != nil {
		log.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Apply schema migrations before anything touches the tables
	if err := pgstore.Migrate(ctx, cfg.DatabaseDSN); err != nil {
		log.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	// Initialize database store
	st, err := pgstore.NewPostgresStore(pgstore.DefaultConfig(cfg.DatabaseDSN), log.WithComponent("store").Logger)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	// The API only sends notifications; the worker listens.
	notifier := pgqueue.NewNotifier(st.DB(), log.WithComponent("notifier").Logger)
	queue := pgqueue.NewPostgresQueue(st.DB(), notifier, log.WithComponent("queue").Logger)

	var publisher events.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL, log.WithComponent("events").Logger)
		if err != nil {
			log.Warn("job events disabled", "error", err)
		} else {
			publisher = pub
		}
	}

	tpl, err := templates.NewStore(cfg.TemplatesDir, log.WithComponent("templates").Logger)
	if err != nil {
		log.Error("failed to open templates directory", "error", err)
		os.Exit(1)
	}

	authService := auth.NewService(&auth.Config{
		JWTSecret:   []byte(cfg.JWTSecret),
		TokenExpiry: cfg.JWTExpiry,
	}, log.WithComponent("auth").Logger)

	server, err := api.NewServer(cfg, st, queue, authService, tpl, log.Logger,
		api.WithEvents(publisher),
		api.WithRegistry(telemetry.NewRegistry()),
	)
	if err != nil {
		log.Error("failed to create API server", "error", err)
		os.Exit(1)
	}

	// Components stop in reverse order: HTTP first, database last.
	coordinator := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.Logger),
	)
	coordinator.Register(shutdown.NewCloserComponent("database", st))
	coordinator.Register(shutdown.NewFuncComponent("tracing", shutdownTracer))
	coordinator.Register(shutdown.NewFuncComponent("events", func(context.Context) error {
		publisher.Close()
		return nil
	}))
	coordinator.Register(shutdown.NewCloserComponent("notifier", notifier))
	coordinator.Register(shutdown.NewHTTPServerComponent("http", server.HTTPServer()))

	go func() {
		if err := server.Start(ctx); err != nil {
			log.Error("server error", "error", err)
			cancel()
		}
	}()

	coordinator.WaitForSignal(ctx)
	log.Info("server stopped")
	code := coordinator.ExitCode()
	closeLog()
	os.Exit(code)
}
