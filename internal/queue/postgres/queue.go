// Package postgres provides the gorm-backed implementation of the build queue.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/narvanalabs/sitekiln/internal/models"
	"github.com/narvanalabs/sitekiln/internal/queue"
	"gorm.io/gorm"
)

// PostgresQueue implements queue.Queue on the build_jobs table.
type PostgresQueue struct {
	db       *gorm.DB
	notifier queue.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewPostgresQueue creates a new queue. notifier may be nil.
func NewPostgresQueue(db *gorm.DB, notifier queue.Notifier, logger *slog.Logger) *PostgresQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresQueue{
		db:       db,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue inserts a new pending local job.
func (q *PostgresQueue) Enqueue(ctx context.Context, job *models.BuildJob) error {
	job.Status = models.BuildStatusPending
	if job.Channel == "" {
		job.Channel = models.BuildChannelLocal
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = q.now()
	}

	if err := q.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("inserting job into queue: %w", err)
	}

	if q.notifier != nil {
		if err := q.notifier.Notify(ctx); err != nil {
			q.logger.Warn("failed to notify workers", "job_id", job.ID, "error", err)
		}
	}

	q.logger.Debug("enqueued build job", "job_id", job.ID)
	return nil
}

// Claim selects the oldest pending local job and flips it to running.
// On PostgreSQL the row is locked with SKIP LOCKED; elsewhere the conditional
// update alone decides the winner.
func (q *PostgresQueue) Claim(ctx context.Context) (*models.BuildJob, error) {
	var job models.BuildJob
	var claimed bool

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if tx.Dialector.Name() == "postgres" {
			err = tx.Raw(`
				SELECT * FROM build_jobs
				WHERE status = ? AND channel = ?
				ORDER BY created_at ASC, id ASC
				LIMIT 1
				FOR UPDATE SKIP LOCKED`,
				models.BuildStatusPending, models.BuildChannelLocal).Scan(&job).Error
		} else {
			err = tx.Where("status = ? AND channel = ?", models.BuildStatusPending, models.BuildChannelLocal).
				Order("created_at ASC").Order("id ASC").
				Limit(1).
				Find(&job).Error
		}
		if err != nil {
			return fmt.Errorf("selecting job from queue: %w", err)
		}
		if job.ID == "" {
			return nil
		}

		now := q.now()
		res := tx.Model(&models.BuildJob{}).
			Where("id = ? AND status = ?", job.ID, models.BuildStatusPending).
			Updates(map[string]any{
				"status":     models.BuildStatusRunning,
				"started_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("updating job status: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			claimed = true
			job.Status = models.BuildStatusRunning
			job.StartedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, queue.ErrNoJobs
	}

	q.logger.Debug("claimed build job", "job_id", job.ID)
	return &job, nil
}

// Complete records the artifact and marks the job successful.
func (q *PostgresQueue) Complete(ctx context.Context, jobID string, artifact *models.BuildArtifact, message string) error {
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if artifact.CreatedAt.IsZero() {
			artifact.CreatedAt = q.now()
		}
		if err := tx.Create(artifact).Error; err != nil {
			return fmt.Errorf("creating artifact: %w", err)
		}
		return q.finish(tx, jobID, map[string]any{
			"status":      models.BuildStatusSuccess,
			"message":     message,
			"artifact_id": artifact.ID,
			"finished_at": q.now(),
		})
	})
	if err != nil {
		return err
	}

	q.logger.Debug("completed build job", "job_id", jobID, "artifact_id", artifact.ID)
	return nil
}

// Fail marks a running job failed.
func (q *PostgresQueue) Fail(ctx context.Context, jobID string, message string) error {
	err := q.finish(q.db.WithContext(ctx), jobID, map[string]any{
		"status":      models.BuildStatusFailed,
		"message":     message,
		"finished_at": q.now(),
	})
	if err != nil {
		return err
	}

	q.logger.Debug("failed build job", "job_id", jobID)
	return nil
}

// finish applies a terminal update guarded on status=running.
func (q *PostgresQueue) finish(tx *gorm.DB, jobID string, updates map[string]any) error {
	res := tx.Model(&models.BuildJob{}).
		Where("id = ? AND status = ?", jobID, models.BuildStatusRunning).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("updating job status: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var job models.BuildJob
	if err := tx.Select("id").First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return queue.ErrJobNotFound
		}
		return fmt.Errorf("checking job: %w", err)
	}
	return queue.ErrNotRunning
}
