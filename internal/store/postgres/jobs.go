package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/narvanalabs/sitekiln/internal/models"
	"gorm.io/gorm"
)

// JobStore implements store.JobStore.
type JobStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Create inserts a job.
func (s *JobStore) Create(ctx context.Context, job *models.BuildJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("creating build job: %w", translate(err))
	}
	return nil
}

// Get retrieves a job by ID.
func (s *JobStore) Get(ctx context.Context, id string) (*models.BuildJob, error) {
	var job models.BuildJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &job, nil
}

// ListByUser returns a user's jobs newest-first.
func (s *JobStore) ListByUser(ctx context.Context, userID string, limit int) ([]*models.BuildJob, error) {
	var jobs []*models.BuildJob
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("listing build jobs: %w", err)
	}
	return jobs, nil
}

// ApplyCallback writes a remote job's reported state unless the job is already terminal.
func (s *JobStore) ApplyCallback(ctx context.Context, id string, status models.BuildStatus, message string, artifactID *string) (bool, error) {
	updates := map[string]any{
		"status":  status,
		"message": message,
	}
	if status.IsTerminal() {
		updates["finished_at"] = time.Now().UTC()
	}
	if artifactID != nil {
		updates["artifact_id"] = *artifactID
	}

	res := s.db.WithContext(ctx).Model(&models.BuildJob{}).
		Where("id = ? AND status IN ?", id, []models.BuildStatus{models.BuildStatusPending, models.BuildStatusRunning}).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("applying build callback: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	// Distinguish a missing job from a terminal one.
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// FailRunning marks running jobs on channel that started before startedBefore
// as failed. Rows without a start time always qualify.
func (s *JobStore) FailRunning(ctx context.Context, channel models.BuildChannel, startedBefore time.Time, message string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.BuildJob{}).
		Where("status = ? AND channel = ?", models.BuildStatusRunning, channel).
		Where("(started_at IS NULL OR started_at < ?)", startedBefore.UTC()).
		Updates(map[string]any{
			"status":      models.BuildStatusFailed,
			"message":     message,
			"finished_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failing running jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CountByStatus returns job counts keyed by status.
func (s *JobStore) CountByStatus(ctx context.Context) (map[models.BuildStatus]int64, error) {
	var rows []struct {
		Status models.BuildStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&models.BuildJob{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting build jobs: %w", err)
	}

	counts := make(map[models.BuildStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
