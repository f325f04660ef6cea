package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/narvanalabs/sitekiln/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeCounter struct {
	counts map[models.BuildStatus]int64
	err    error
}

func (c fakeCounter) CountByStatus(context.Context) (map[models.BuildStatus]int64, error) {
	return c.counts, c.err
}

func TestChecker(t *testing.T) {
	tests := []struct {
		name       string
		pinger     Pinger
		jobs       JobCounter
		want       Status
		wantStatus int
	}{
		{
			name:       "healthy database",
			pinger:     fakePinger{},
			want:       StatusHealthy,
			wantStatus: http.StatusOK,
		},
		{
			name:       "no database configured",
			pinger:     nil,
			want:       StatusUnhealthy,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "database down",
			pinger:     fakePinger{err: errors.New("connection refused")},
			want:       StatusUnhealthy,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:   "queue counted",
			pinger: fakePinger{},
			jobs: fakeCounter{counts: map[models.BuildStatus]int64{
				models.BuildStatusPending: 3,
				models.BuildStatusRunning: 1,
			}},
			want:       StatusHealthy,
			wantStatus: http.StatusOK,
		},
		{
			name:       "queue count fails",
			pinger:     fakePinger{},
			jobs:       fakeCounter{err: errors.New("timeout")},
			want:       StatusDegraded,
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(tt.pinger, "test")
			if tt.jobs != nil {
				c.WatchQueue(tt.jobs)
			}

			rec := httptest.NewRecorder()
			c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, tt.wantStatus, rec.Code)

			var resp Response
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.want, resp.Status)
			assert.Equal(t, "test", resp.Version)
			if tt.jobs != nil {
				assert.Contains(t, resp.Components, "queue")
			}
		})
	}
}

func TestQueueMessage(t *testing.T) {
	c := NewChecker(fakePinger{}, "v")
	c.WatchQueue(fakeCounter{counts: map[models.BuildStatus]int64{models.BuildStatusPending: 2}})

	resp := c.Check(context.Background())
	assert.Equal(t, "2 pending, 0 running", resp.Components["queue"].Message)
}

func TestWatchDirs(t *testing.T) {
	present := t.TempDir()
	missing := filepath.Join(present, "absent")

	c := NewChecker(fakePinger{}, "v")
	c.WatchDirs(present)
	resp := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, StatusHealthy, resp.Components["storage"].Status)

	c.WatchDirs(present, missing)
	resp = c.Check(context.Background())
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Equal(t, "missing: "+missing, resp.Components["storage"].Message)
}

func TestUnhealthyWinsOverDegraded(t *testing.T) {
	c := NewChecker(fakePinger{err: errors.New("down")}, "v")
	c.WatchQueue(fakeCounter{err: errors.New("timeout")})

	resp := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, StatusDegraded, resp.Components["queue"].Status)
}
