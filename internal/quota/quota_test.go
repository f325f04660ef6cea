package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/narvanalabs/sitekiln/internal/models"
	"github.com/narvanalabs/sitekiln/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockUserStore implements the quota-related part of store.UserStore.
type mockUserStore struct {
	store.UserStore
	mu    sync.Mutex
	users map[string]*models.User
}

func newMockUserStore(users ...*models.User) *mockUserStore {
	m := &mockUserStore{users: make(map[string]*models.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *mockUserStore) ConsumeBuild(_ context.Context, userID, day string, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return 0, store.ErrNotFound
	}
	if u.LastBuildDate != day {
		u.LastBuildDate = day
		u.DailyUsed = 0
	}
	if u.DailyUsed >= limit {
		return u.DailyUsed, store.ErrQuotaExhausted
	}
	u.DailyUsed++
	return u.DailyUsed, nil
}

func (m *mockUserStore) RefundBuild(_ context.Context, userID, day string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok && u.LastBuildDate == day && u.DailyUsed > 0 {
		u.DailyUsed--
	}
	return nil
}

func newTestService(users store.UserStore, now time.Time) *Service {
	s := NewService(users, 2)
	s.now = func() time.Time { return now }
	return s
}

func TestConsumeThirdRequestExceeded(t *testing.T) {
	user := &models.User{ID: "u1"}
	day := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	s := newTestService(newMockUserStore(user), day)
	ctx := context.Background()

	u, err := s.Consume(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, Usage{Limit: 2, Used: 1, Left: 1}, u)

	u, err = s.Consume(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 0, u.Left)

	u, err = s.Consume(ctx, user)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQuotaExceeded))
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, Usage{Limit: 2, Used: 2, Left: 0}, exceeded.Usage)
	assert.Equal(t, 0, u.Left)

	s.now = func() time.Time { return day.Add(time.Hour) }
	u, err = s.Consume(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, u.Used)
}

func TestAdminsAreUnlimited(t *testing.T) {
	admin := &models.User{ID: "a", IsAdmin: true}
	s := newTestService(newMockUserStore(admin), time.Now())

	for i := 0; i < 5; i++ {
		u, err := s.Consume(context.Background(), admin)
		require.NoError(t, err)
		assert.Equal(t, -1, u.Left)
	}
	assert.NoError(t, s.Refund(context.Background(), admin))
	assert.Equal(t, -1, s.Peek(admin).Limit)
}

func TestRefundGivesSlotBack(t *testing.T) {
	user := &models.User{ID: "u1"}
	s := newTestService(newMockUserStore(user), time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	ctx := context.Background()

	_, err := s.Consume(ctx, user)
	require.NoError(t, err)
	_, err = s.Consume(ctx, user)
	require.NoError(t, err)
	require.NoError(t, s.Refund(ctx, user))

	_, err = s.Consume(ctx, user)
	assert.NoError(t, err)
}

func TestPeek(t *testing.T) {
	s := newTestService(nil, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))

	tests := []struct {
		name string
		user *models.User
		want Usage
	}{
		{"fresh user", &models.User{}, Usage{Limit: 2, Used: 0, Left: 2}},
		{"used today", &models.User{LastBuildDate: "2026-03-02", DailyUsed: 1}, Usage{Limit: 2, Used: 1, Left: 1}},
		{"used yesterday", &models.User{LastBuildDate: "2026-03-01", DailyUsed: 2}, Usage{Limit: 2, Used: 0, Left: 2}},
		{"over limit", &models.User{LastBuildDate: "2026-03-02", DailyUsed: 5}, Usage{Limit: 2, Used: 5, Left: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Peek(tt.user))
		})
	}
}

func TestConsumeUnknownUser(t *testing.T) {
	s := newTestService(newMockUserStore(), time.Now())
	_, err := s.Consume(context.Background(), &models.User{ID: "nobody"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// **Feature: sitekiln, Property 6: Daily Quota Enforcement**
// For any number of requests within one day, exactly min(n, limit) succeed.
func TestQuotaProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("successes never exceed the limit", prop.ForAll(
		func(limit, requests int) bool {
			user := &models.User{ID: "u"}
			s := NewService(newMockUserStore(user), limit)
			ok := 0
			for i := 0; i < requests; i++ {
				if _, err := s.Consume(context.Background(), user); err == nil {
					ok++
				} else if !errors.Is(err, ErrQuotaExceeded) {
					return false
				}
			}
			want := requests
			if want > limit {
				want = limit
			}
			return ok == want
		},
		gen.IntRange(1, 5),
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}
