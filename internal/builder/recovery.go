package builder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/narvanalabs/sitekiln/internal/builder/executor"
	"github.com/narvanalabs/sitekiln/internal/cleanup"
	"github.com/narvanalabs/sitekiln/internal/models"
	"github.com/narvanalabs/sitekiln/internal/store"
)

// MsgInterrupted is stored on local jobs that were running when the worker died.
const MsgInterrupted = "interrupted by worker restart"

// ScratchSweeper removes leftover scratch directories.
type ScratchSweeper interface {
	SweepScratch(ctx context.Context, workDir, prefix string) (*cleanup.CleanupResult, error)
}

// abandonMargin covers archive extraction and packaging on top of the two
// bounded subprocesses.
const abandonMargin = 5 * time.Minute

// AbandonedAfter returns how long a local job may stay running before no live
// worker can still own it. Install and build are each bounded by
// commandTimeout.
func AbandonedAfter(commandTimeout time.Duration) time.Duration {
	return 2*commandTimeout + abandonMargin
}

// RecoveryService cleans up after a worker that stopped mid-build.
// Pending jobs need no action since they stay claimable. Other workers may
// share the queue, so only running jobs older than abandonedAfter are failed.
type RecoveryService struct {
	jobs           store.JobStore
	sweeper        ScratchSweeper
	workDir        string
	abandonedAfter time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// RecoveryResult contains the results of a startup recovery operation.
type RecoveryResult struct {
	// InterruptedBuilds is the number of local jobs marked failed.
	InterruptedBuilds int64
	// ScratchRemoved is the number of scratch directories removed.
	ScratchRemoved int
	// Errors contains any errors encountered during recovery.
	Errors []error
}

// NewRecoveryService creates a new RecoveryService. sweeper may be nil.
func NewRecoveryService(jobs store.JobStore, sweeper ScratchSweeper, workDir string, abandonedAfter time.Duration, logger *slog.Logger) *RecoveryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecoveryService{
		jobs:           jobs,
		sweeper:        sweeper,
		workDir:        workDir,
		abandonedAfter: abandonedAfter,
		logger:         logger,
		now:            time.Now,
	}
}

// ReapAbandoned fails local jobs that have been running longer than any live
// build can take. The worker calls it on startup and then periodically, so a
// job interrupted shortly before a restart is failed once it ages past the
// cutoff.
func (r *RecoveryService) ReapAbandoned(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.abandonedAfter)
	n, err := r.jobs.FailRunning(ctx, models.BuildChannelLocal, cutoff, MsgInterrupted)
	if err != nil {
		return 0, fmt.Errorf("marking interrupted builds: %w", err)
	}
	if n > 0 {
		r.logger.Info("marked interrupted builds as failed", "count", n, "started_before", cutoff)
	}
	return n, nil
}

// RecoverOnStartup must run before the worker starts claiming. Remote jobs
// are left alone since their builds continue on GitHub.
func (r *RecoveryService) RecoverOnStartup(ctx context.Context) (*RecoveryResult, error) {
	result := &RecoveryResult{}

	r.logger.Info("starting build recovery")

	n, err := r.ReapAbandoned(ctx)
	if err != nil {
		result.Errors = append(result.Errors, err)
		r.logger.Error("failed to mark interrupted builds", "error", err)
	} else {
		result.InterruptedBuilds = n
	}

	if r.sweeper != nil && r.workDir != "" {
		swept, err := r.sweeper.SweepScratch(ctx, r.workDir, executor.ScratchPrefix)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("sweeping scratch: %w", err))
			r.logger.Error("failed to sweep scratch directories", "error", err)
		} else {
			result.ScratchRemoved = swept.ItemsRemoved
		}
	}

	r.logger.Info("build recovery completed",
		"interrupted_builds", result.InterruptedBuilds,
		"scratch_removed", result.ScratchRemoved,
		"errors", len(result.Errors),
	)
	return result, nil
}
