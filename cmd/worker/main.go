// Package main provides the entry point for the build worker.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/narvanalabs/sitekiln/internal/builder"
	"github.com/narvanalabs/sitekiln/internal/builder/executor"
	"github.com/narvanalabs/sitekiln/internal/builder/metrics"
	"github.com/narvanalabs/sitekiln/internal/cleanup"
	"github.com/narvanalabs/sitekiln/internal/events"
	postgresqueue "github.com/narvanalabs/sitekiln/internal/queue/postgres"
	"github.com/narvanalabs/sitekiln/internal/secrets"
	"github.com/narvanalabs/sitekiln/internal/shutdown"
	"github.com/narvanalabs/sitekiln/internal/store/postgres"
	"github.com/narvanalabs/sitekiln/internal/telemetry"
	"github.com/narvanalabs/sitekiln/internal/templates"
	"github.com/narvanalabs/sitekiln/pkg/config"
	"github.com/narvanalabs/sitekiln/pkg/logger"
)

const (
	serviceName       = "sitekiln-worker"
	diskCheckInterval = time.Minute
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

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.InitTracer(ctx, serviceName, cfg.Tracing)
	if err != nil {
		log.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Initialize database store
	store, err := postgres.NewPostgresStore(postgres.DefaultConfig(cfg.DatabaseDSN), log.WithComponent("store").Logger)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	// Initialize queue. Without LISTEN the worker still finds jobs by polling.
	notifier := postgresqueue.NewNotifier(store.DB(), log.WithComponent("notifier").Logger)
	if err := notifier.Listen(cfg.DatabaseDSN); err != nil {
		log.Warn("queue notifications unavailable, relying on polling", "error", err)
	}
	queue := postgresqueue.NewPostgresQueue(store.DB(), notifier, log.WithComponent("queue").Logger)

	tpl, err := templates.NewStore(cfg.TemplatesDir, log.WithComponent("templates").Logger)
	if err != nil {
		log.Error("failed to open templates directory", "error", err)
		os.Exit(1)
	}

	exec, err := executor.New(&executor.Config{
		WorkDir:        cfg.Worker.WorkDir,
		BuildsDir:      cfg.BuildsDir,
		CommandTimeout: cfg.Worker.CommandTimeout,
	}, tpl, log.WithComponent("executor").Logger)
	if err != nil {
		log.Error("failed to create executor", "error", err)
		os.Exit(1)
	}

	cleanupService, err := cleanup.NewService(store.Artifacts(), cleanup.Settings{
		ArtifactRetention: cfg.ArtifactRetention,
		ScratchMaxAge:     cfg.Worker.ScratchMaxAge,
	}, log.WithComponent("cleanup").Logger)
	if err != nil {
		log.Error("invalid cleanup settings", "error", err)
		os.Exit(1)
	}

	// Perform startup recovery for interrupted builds
	recoveryService := builder.NewRecoveryService(store.Jobs(), cleanupService, cfg.Worker.WorkDir,
		builder.AbandonedAfter(cfg.Worker.CommandTimeout), log.WithComponent("recovery").Logger)
	recoveryResult, err := recoveryService.RecoverOnStartup(ctx)
	if err != nil {
		log.Error("failed to perform startup recovery", "error", err)
		// Continue anyway - recovery errors shouldn't prevent worker from starting
	} else {
		log.Info("startup recovery completed",
			"interrupted_builds", recoveryResult.InterruptedBuilds,
			"scratch_removed", recoveryResult.ScratchRemoved,
		)
	}

	sealer, err := secrets.NewSealer(secrets.Config{AgePrivateKey: cfg.SOPS.AgePrivateKey}, log.WithComponent("secrets").Logger)
	if err != nil {
		log.Error("failed to initialize env sealer", "error", err)
		os.Exit(1)
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL, log.WithComponent("events").Logger)
		if err != nil {
			log.Warn("job events disabled", "error", err)
		} else {
			publisher = pub
		}
	}

	registry := telemetry.NewRegistry()
	collector := metrics.NewCollector(registry)

	// Create the worker
	worker := builder.NewWorker(&builder.WorkerConfig{PollInterval: cfg.Worker.PollInterval},
		queue, exec, log.WithComponent("worker").Logger,
		builder.WithWake(notifier.Wake()),
		builder.WithEnvOpener(sealer),
		builder.WithPruner(cleanupService),
		builder.WithMetrics(collector),
		builder.WithEvents(publisher),
	)

	// Health, metrics and build stats
	healthChecker := builder.NewWorkerHealthChecker(store, worker, builder.WorkerVersion)
	healthChecker.WatchDisk(func(path string) (float64, error) {
		stats, err := cleanup.StatDisk(path)
		if err != nil {
			return 0, err
		}
		return stats.UsagePercent, nil
	}, cfg.BuildsDir, cfg.Worker.WorkDir)

	router := chi.NewRouter()
	router.Get("/health", healthChecker.Handler())
	router.Method(http.MethodGet, "/metrics", telemetry.MetricsHandler(registry))
	router.Get("/stats", metrics.StatsHandler(collector))
	healthServer := &http.Server{
		Addr:              cfg.Worker.HealthAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("health server error", "error", err)
		}
	}()

	// Sweep scratch space early when the disk fills up, and fail local jobs
	// whose worker died after this one started.
	monitorCtx, stopMonitor := context.WithCancel(ctx)
	monitor := cleanup.NewDiskMonitor(cleanupService, log.WithComponent("disk").Logger)
	go func() {
		ticker := time.NewTicker(diskCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				for _, dir := range []string{cfg.BuildsDir, cfg.Worker.WorkDir} {
					monitor.Check(monitorCtx, dir, cfg.Worker.WorkDir, executor.ScratchPrefix)
				}
				if _, err := recoveryService.ReapAbandoned(monitorCtx); err != nil {
					log.Error("failed to reap abandoned builds", "error", err)
				}
			}
		}
	}()

	log.Info("build worker configured",
		"poll_interval", cfg.Worker.PollInterval,
		"work_dir", cfg.Worker.WorkDir,
		"builds_dir", cfg.BuildsDir,
		"health_addr", cfg.Worker.HealthAddr,
	)
	if err := worker.Start(ctx); err != nil {
		log.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// Components stop in reverse order: the worker finishes its build first.
	coordinator := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.Logger),
	)
	coordinator.Register(shutdown.NewCloserComponent("database", store))
	coordinator.Register(shutdown.NewFuncComponent("tracing", shutdownTracer))
	coordinator.Register(shutdown.NewFuncComponent("events", func(context.Context) error {
		publisher.Close()
		return nil
	}))
	coordinator.Register(shutdown.NewCloserComponent("notifier", notifier))
	coordinator.Register(shutdown.NewHTTPServerComponent("health", healthServer))
	coordinator.Register(shutdown.NewFuncComponent("maintenance", func(context.Context) error {
		stopMonitor()
		return nil
	}))
	coordinator.Register(shutdown.NewWorkerComponent("worker", worker))

	coordinator.WaitForSignal(ctx)
	log.Info("build worker shutdown complete")
	code := coordinator.ExitCode()
	closeLog()
	os.Exit(code)
}
