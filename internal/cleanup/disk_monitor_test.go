package cleanup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatDisk(t *testing.T) {
	stats, err := StatDisk(t.TempDir())
	require.NoError(t, err)
	assert.NotZero(t, stats.TotalBytes)
	assert.GreaterOrEqual(t, stats.UsagePercent, 0.0)
	assert.LessOrEqual(t, stats.UsagePercent, 100.0)
}

func TestDiskMonitorCheck(t *testing.T) {
	tests := []struct {
		name      string
		usage     float64
		statErr   error
		wantSweep bool
	}{
		{"healthy", 40, nil, false},
		{"warning", 85, nil, false},
		{"critical", 95, nil, true},
		{"stat error", 0, errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			work := t.TempDir()
			stale := filepath.Join(work, "build-old")
			require.NoError(t, os.Mkdir(stale, 0o755))
			old := time.Now().Add(-2 * time.Hour)
			require.NoError(t, os.Chtimes(stale, old, old))

			mon := NewDiskMonitor(newTestService(t, newMockArtifactStore()), nil)
			mon.stat = func(path string) (*DiskStats, error) {
				if tt.statErr != nil {
					return nil, tt.statErr
				}
				return &DiskStats{Path: path, UsagePercent: tt.usage}, nil
			}

			swept := mon.Check(context.Background(), work, work, "build-")
			assert.Equal(t, tt.wantSweep, swept)
			if tt.wantSweep {
				assert.NoDirExists(t, stale)
			} else {
				assert.DirExists(t, stale)
			}
		})
	}
}
