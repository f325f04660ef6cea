// Package quota enforces the per-user daily build allowance.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/narvanalabs/sitekiln/internal/models"
	"github.com/narvanalabs/sitekiln/internal/store"
)

// DefaultDailyLimit is the number of builds a user may start per UTC day.
const DefaultDailyLimit = 2

// DayLayout formats the quota day stored on users.
const DayLayout = "2006-01-02"

// ErrQuotaExceeded is returned when a user has no builds left today.
var ErrQuotaExceeded = errors.New("daily build quota exceeded")

// Usage describes a user's allowance for the current day. Limit is -1 for
// unlimited users.
type Usage struct {
	Limit int `json:"limit"`
	Used  int `json:"used"`
	Left  int `json:"left"`
}

// ExceededError carries the usage at the time of rejection.
type ExceededError struct {
	Usage Usage
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("%s: used %d of %d", ErrQuotaExceeded, e.Usage.Used, e.Usage.Limit)
}

func (e *ExceededError) Unwrap() error { return ErrQuotaExceeded }

// Service consumes and refunds build slots.
type Service struct {
	users store.UserStore
	limit int
	now   func() time.Time
}

// NewService creates a quota service. A non-positive limit falls back to DefaultDailyLimit.
func NewService(users store.UserStore, limit int) *Service {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	return &Service{users: users, limit: limit, now: time.Now}
}

// Limit returns the daily limit.
func (s *Service) Limit() int { return s.limit }

// Today returns the current quota day.
func (s *Service) Today() string {
	return s.now().UTC().Format(DayLayout)
}

// Consume takes one slot for user. When none are left it returns an
// *ExceededError wrapping ErrQuotaExceeded.
func (s *Service) Consume(ctx context.Context, user *models.User) (Usage, error) {
	if user.IsAdmin {
		return unlimited(), nil
	}
	used, err := s.users.ConsumeBuild(ctx, user.ID, s.Today(), s.limit)
	if errors.Is(err, store.ErrQuotaExhausted) {
		u := Usage{Limit: s.limit, Used: used, Left: 0}
		return u, &ExceededError{Usage: u}
	}
	if err != nil {
		return Usage{}, fmt.Errorf("consuming build slot: %w", err)
	}
	return s.usage(used), nil
}

// Refund returns a slot taken today.
func (s *Service) Refund(ctx context.Context, user *models.User) error {
	if user.IsAdmin {
		return nil
	}
	if err := s.users.RefundBuild(ctx, user.ID, s.Today()); err != nil {
		return fmt.Errorf("refunding build slot: %w", err)
	}
	return nil
}

// Peek reports usage without consuming. A counter stamped with an earlier
// day reads as zero.
func (s *Service) Peek(user *models.User) Usage {
	if user.IsAdmin {
		return unlimited()
	}
	used := 0
	if user.LastBuildDate == s.Today() {
		used = user.DailyUsed
	}
	return s.usage(used)
}

func (s *Service) usage(used int) Usage {
	left := s.limit - used
	if left < 0 {
		left = 0
	}
	return Usage{Limit: s.limit, Used: used, Left: left}
}

func unlimited() Usage {
	return Usage{Limit: -1, Used: 0, Left: -1}
}
