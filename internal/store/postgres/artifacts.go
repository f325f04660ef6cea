package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/narvanalabs/sitekiln/internal/models"
	"gorm.io/gorm"
)

// ArtifactStore implements store.ArtifactStore.
type ArtifactStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Create inserts an artifact row.
func (s *ArtifactStore) Create(ctx context.Context, artifact *models.BuildArtifact) error {
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(artifact).Error; err != nil {
		return fmt.Errorf("creating artifact: %w", translate(err))
	}
	return nil
}

// Get retrieves an artifact by ID.
func (s *ArtifactStore) Get(ctx context.Context, id string) (*models.BuildArtifact, error) {
	var artifact models.BuildArtifact
	if err := s.db.WithContext(ctx).First(&artifact, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &artifact, nil
}

// ListByUser returns a user's artifacts newest-first.
func (s *ArtifactStore) ListByUser(ctx context.Context, userID string) ([]*models.BuildArtifact, error) {
	var artifacts []*models.BuildArtifact
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Find(&artifacts).Error
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	return artifacts, nil
}

// Delete removes an artifact row.
func (s *ArtifactStore) Delete(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&models.BuildArtifact{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("deleting artifact: %w", err)
	}
	return nil
}
