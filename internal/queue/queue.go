// Package queue provides the build job queue interface.
package queue

import (
	"context"
	"errors"

	"github.com/narvanalabs/sitekiln/internal/models"
)

// Common errors returned by queue operations.
var (
	// ErrNoJobs is returned when no jobs are available in the queue.
	ErrNoJobs = errors.New("no jobs available")
	// ErrJobNotFound is returned when a job cannot be found.
	ErrJobNotFound = errors.New("job not found")
	// ErrNotRunning is returned when a terminal transition targets a job that
	// is not in the running state.
	ErrNotRunning = errors.New("job is not running")
)

// Queue defines the operations the worker loop needs on the job table.
// Every transition is conditional on the current status, so a job moves
// pending -> running -> {success, failed} and never backwards.
type Queue interface {
	// Enqueue inserts a new pending job.
	Enqueue(ctx context.Context, job *models.BuildJob) error

	// Claim moves the oldest pending local job to running and returns it.
	// Returns ErrNoJobs if nothing is pending or another claimer won the row.
	Claim(ctx context.Context) (*models.BuildJob, error)

	// Complete records the artifact and marks the job successful in one transaction.
	Complete(ctx context.Context, jobID string, artifact *models.BuildArtifact, message string) error

	// Fail marks a running job failed with message.
	Fail(ctx context.Context, jobID string, message string) error
}

// Notifier signals that new work may be available.
type Notifier interface {
	// Notify announces that a job was enqueued.
	Notify(ctx context.Context) error
	// Wake returns a channel that receives when another process enqueued work.
	Wake() <-chan struct{}
	// Close stops listening.
	Close() error
}
