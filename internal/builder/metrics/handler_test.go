package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsHandler(t *testing.T) {
	c := NewCollector(nil)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, c.RecordMetrics(ctx, &BuildMetrics{JobID: "1", Template: "blog", Success: true, StartedAt: now.Add(-3 * time.Hour)}))
	require.NoError(t, c.RecordMetrics(ctx, &BuildMetrics{JobID: "2", Template: "blog", Success: false, StartedAt: now.Add(-time.Minute)}))
	require.NoError(t, c.RecordMetrics(ctx, &BuildMetrics{JobID: "3", Template: "shop", Success: true, StartedAt: now}))

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantTotal  int
	}{
		{"everything", "", http.StatusOK, 3},
		{"by template", "?template=blog", http.StatusOK, 2},
		{"failures only", "?success=false", http.StatusOK, 1},
		{"last hour", "?since=1h", http.StatusOK, 2},
		{"bad boolean", "?success=maybe", http.StatusBadRequest, 0},
		{"bad duration", "?since=-5m", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			StatsHandler(c).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats"+tt.query, nil))
			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			var agg AggregateMetrics
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&agg))
			assert.Equal(t, tt.wantTotal, agg.TotalBuilds)
		})
	}
}
