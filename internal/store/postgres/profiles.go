package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/narvanalabs/sitekiln/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProfileStore implements store.ProfileStore.
type ProfileStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Get retrieves the profile of a user.
func (s *ProfileStore) Get(ctx context.Context, userID string) (*models.BuildProfile, error) {
	var profile models.BuildProfile
	if err := s.db.WithContext(ctx).First(&profile, "user_id = ?", userID).Error; err != nil {
		return nil, translate(err)
	}
	return &profile, nil
}

// Save creates or overwrites the profile of a user.
func (s *ProfileStore) Save(ctx context.Context, profile *models.BuildProfile) error {
	profile.UpdatedAt = time.Now().UTC()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(profile).Error
	if err != nil {
		return fmt.Errorf("saving build profile: %w", err)
	}
	return nil
}
