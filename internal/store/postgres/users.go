package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/narvanalabs/sitekiln/internal/models"
	"github.com/narvanalabs/sitekiln/internal/store"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// UserStore implements store.UserStore.
type UserStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Create creates a new user with hashed password.
func (s *UserStore) Create(ctx context.Context, email, password string, isAdmin bool) (*models.User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &models.User{
		ID:           uuid.New().String(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: string(hashed),
		IsAdmin:      isAdmin,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("creating user: %w", translate(err))
	}
	return user, nil
}

// GetByID retrieves a user by ID.
func (s *UserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// GetByEmail retrieves a user by email.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		First(&user, "email = ?", strings.ToLower(strings.TrimSpace(email))).Error
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// Authenticate verifies credentials and returns the user.
func (s *UserStore) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.GetByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, store.ErrInvalidCredentials
	}
	return user, nil
}

// List retrieves all users.
func (s *UserStore) List(ctx context.Context) ([]*models.User, error) {
	var users []*models.User
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

// ConsumeBuild takes one build slot for day.
// Both statements are conditional updates, so two requests racing for the last
// slot serialize on the row lock and only one of them succeeds.
func (s *UserStore) ConsumeBuild(ctx context.Context, userID, day string, limit int) (int, error) {
	var used int
	var exhausted bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.User{}).
			Where("id = ? AND (last_build_date IS NULL OR last_build_date <> ?)", userID, day).
			Updates(map[string]any{"last_build_date": day, "daily_used": 0}).Error
		if err != nil {
			return fmt.Errorf("rolling over quota day: %w", err)
		}

		res := tx.Model(&models.User{}).
			Where("id = ? AND daily_used < ?", userID, limit).
			Update("daily_used", gorm.Expr("daily_used + 1"))
		if res.Error != nil {
			return fmt.Errorf("incrementing daily usage: %w", res.Error)
		}
		exhausted = res.RowsAffected == 0

		var user models.User
		if err := tx.Select("daily_used").First(&user, "id = ?", userID).Error; err != nil {
			return translate(err)
		}
		used = user.DailyUsed
		return nil
	})
	if err != nil {
		return 0, err
	}
	if exhausted {
		return used, store.ErrQuotaExhausted
	}
	return used, nil
}

// RefundBuild gives back one slot taken on day.
func (s *UserStore) RefundBuild(ctx context.Context, userID, day string) error {
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND last_build_date = ? AND daily_used > 0", userID, day).
		Update("daily_used", gorm.Expr("daily_used - 1")).Error
	if err != nil {
		return fmt.Errorf("refunding build slot: %w", err)
	}
	return nil
}
