// Package builder runs local build jobs: a single worker actor claims jobs
// from the queue, hands them to the executor and records the outcome.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/narvanalabs/sitekiln/internal/builder/executor"
	"github.com/narvanalabs/sitekiln/internal/builder/metrics"
	"github.com/narvanalabs/sitekiln/internal/cleanup"
	"github.com/narvanalabs/sitekiln/internal/events"
	"github.com/narvanalabs/sitekiln/internal/models"
	"github.com/narvanalabs/sitekiln/internal/queue"
)

// DefaultPollInterval is how often the worker looks for pending jobs.
const DefaultPollInterval = 2 * time.Second

// MsgEnvDecryptFailed is stored on jobs whose env payload cannot be opened.
const MsgEnvDecryptFailed = "could not decrypt environment payload"

// Executor runs one build.
type Executor interface {
	Execute(ctx context.Context, req executor.Request) (*executor.Result, error)
}

// EnvOpener decrypts stored env payloads.
type EnvOpener interface {
	Open(ctx context.Context, stored string) (string, error)
}

// Pruner enforces artifact retention for a user.
type Pruner interface {
	Prune(ctx context.Context, userID string) (*cleanup.CleanupResult, error)
}

// WorkerConfig holds configuration for the build worker.
type WorkerConfig struct {
	PollInterval time.Duration
}

// DefaultWorkerConfig returns a WorkerConfig with sensible defaults.
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{PollInterval: DefaultPollInterval}
}

// WorkerOption configures optional worker collaborators.
type WorkerOption func(*Worker)

// WithWake lets notifications trigger a tick before the next poll.
func WithWake(wake <-chan struct{}) WorkerOption {
	return func(w *Worker) { w.wake = wake }
}

// WithEnvOpener sets the decrypter for sealed env payloads.
func WithEnvOpener(o EnvOpener) WorkerOption {
	return func(w *Worker) { w.secrets = o }
}

// WithPruner sets the retention policy run after each successful build.
func WithPruner(p Pruner) WorkerOption {
	return func(w *Worker) { w.pruner = p }
}

// WithMetrics sets the build metrics collector.
func WithMetrics(c *metrics.Collector) WorkerOption {
	return func(w *Worker) { w.metrics = c }
}

// WithEvents sets the job event publisher.
func WithEvents(p events.Publisher) WorkerOption {
	return func(w *Worker) { w.events = p }
}

// Worker processes local build jobs one at a time.
type Worker struct {
	queue    queue.Queue
	executor Executor
	secrets  EnvOpener
	pruner   Pruner
	metrics  *metrics.Collector
	events   events.Publisher
	wake     <-chan struct{}
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	started  atomic.Bool
	inFlight atomic.Bool
	current  atomic.Pointer[string]

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWorker creates a new build worker.
func NewWorker(cfg *WorkerConfig, q queue.Queue, exec Executor, logger *slog.Logger, opts ...WorkerOption) *Worker {
	if cfg == nil {
		cfg = DefaultWorkerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	w := &Worker{
		queue:    q,
		executor: exec,
		events:   events.Nop{},
		logger:   logger,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the worker loop.
func (w *Worker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("worker already started")
	}
	w.logger.Info("starting build worker", "poll_interval", w.interval)
	go w.loop(ctx)
	return nil
}

// Stop stops claiming new jobs and waits for the in-flight build.
func (w *Worker) Stop() {
	if !w.started.Load() {
		return
	}
	w.stopOnce.Do(func() {
		w.logger.Info("stopping build worker")
		close(w.stopCh)
	})
	<-w.doneCh
	w.logger.Info("build worker stopped")
}

// Busy reports whether a build is running.
func (w *Worker) Busy() bool {
	return w.inFlight.Load()
}

// CurrentJob returns the ID of the running job, if any.
func (w *Worker) CurrentJob() (string, bool) {
	id := w.current.Load()
	if id == nil {
		return "", false
	}
	return *id, true
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
		case <-w.wake:
		}
		w.Tick(ctx)
	}
}

// Tick claims the single oldest pending job and runs it. A tick that arrives
// while another is running is dropped. Returns the number of jobs processed,
// zero or one.
func (w *Worker) Tick(ctx context.Context) int {
	if !w.inFlight.CompareAndSwap(false, true) {
		return 0
	}
	defer w.inFlight.Store(false)

	if ctx.Err() != nil || w.stopping() {
		return 0
	}
	job, err := w.queue.Claim(ctx)
	if errors.Is(err, queue.ErrNoJobs) {
		return 0
	}
	if err != nil {
		w.logger.Error("failed to claim job", "error", err)
		return 0
	}
	w.processJob(ctx, job)
	return 1
}

func (w *Worker) stopping() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

// processJob runs one claimed job. State writes use a context that survives
// shutdown so a cancelled build is still recorded.
func (w *Worker) processJob(ctx context.Context, job *models.BuildJob) {
	logger := w.logger.With("job_id", job.ID, "template", job.TemplateName, "user_id", job.UserID)
	logger.Info("processing build job")

	w.current.Store(&job.ID)
	defer w.current.Store(nil)
	if w.metrics != nil {
		w.metrics.SetInFlight(true)
		defer w.metrics.SetInFlight(false)
	}

	started := w.now()
	record := &metrics.BuildMetrics{
		JobID:     job.ID,
		Template:  job.TemplateName,
		StartedAt: started,
	}
	if job.StartedAt != nil {
		record.QueueWait = job.StartedAt.Sub(job.CreatedAt)
	}
	w.emit(ctx, job, events.TypeStarted, "", "")

	persistCtx := context.WithoutCancel(ctx)

	env, err := w.openEnv(ctx, job.EnvPayload)
	if err != nil {
		logger.Error("failed to open env payload", "error", err)
		w.fail(persistCtx, logger, job, MsgEnvDecryptFailed, record)
		return
	}

	result, err := w.executor.Execute(ctx, executor.Request{
		JobID:        job.ID,
		TemplateName: job.TemplateName,
		EnvPayload:   env,
	})
	record.BuildTime = w.now().Sub(started)
	if err != nil {
		logger.Warn("build failed", "error", err)
		w.fail(persistCtx, logger, job, err.Error(), record)
		return
	}
	record.Manager = string(result.Manager)

	artifact := &models.BuildArtifact{
		ID:           uuid.New().String(),
		UserID:       job.UserID,
		TemplateName: job.TemplateName,
		OutputPath:   result.ArtifactPath,
		Filename:     result.Filename,
		CreatedAt:    w.now().UTC(),
	}
	if err := w.queue.Complete(persistCtx, job.ID, artifact, models.BuildSuccessMessage); err != nil {
		logger.Error("failed to complete job", "error", err)
		if rmErr := os.Remove(result.ArtifactPath); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("failed to remove orphaned artifact", "path", result.ArtifactPath, "error", rmErr)
		}
		w.fail(persistCtx, logger, job, fmt.Sprintf("recording artifact: %v", err), record)
		return
	}

	record.Success = true
	w.record(persistCtx, logger, record)
	w.emit(persistCtx, job, events.TypeSucceeded, models.BuildSuccessMessage, artifact.ID)
	logger.Info("build succeeded", "artifact_id", artifact.ID, "duration", record.BuildTime)

	if w.pruner != nil {
		if _, err := w.pruner.Prune(persistCtx, job.UserID); err != nil {
			logger.Error("artifact retention failed", "error", err)
		}
	}
}

func (w *Worker) openEnv(ctx context.Context, stored string) (string, error) {
	if w.secrets == nil {
		return stored, nil
	}
	return w.secrets.Open(ctx, stored)
}

func (w *Worker) fail(ctx context.Context, logger *slog.Logger, job *models.BuildJob, message string, record *metrics.BuildMetrics) {
	if err := w.queue.Fail(ctx, job.ID, message); err != nil {
		logger.Error("failed to mark job failed", "error", err)
	}
	record.Reason = message
	w.record(ctx, logger, record)
	w.emit(ctx, job, events.TypeFailed, message, "")
}

func (w *Worker) record(ctx context.Context, logger *slog.Logger, m *metrics.BuildMetrics) {
	if w.metrics == nil {
		return
	}
	if err := w.metrics.RecordMetrics(ctx, m); err != nil {
		logger.Debug("failed to record metrics", "error", err)
	}
}

func (w *Worker) emit(ctx context.Context, job *models.BuildJob, typ events.Type, message, artifactID string) {
	events.Emit(ctx, w.events, w.logger, events.Event{
		Type:       typ,
		JobID:      job.ID,
		UserID:     job.UserID,
		Template:   job.TemplateName,
		Message:    message,
		ArtifactID: artifactID,
		At:         w.now().UTC(),
	})
}
