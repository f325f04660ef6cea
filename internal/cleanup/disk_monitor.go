package cleanup

import (
	"context"
	"log/slog"

	"golang.org/x/sys/unix"
)

// Disk usage thresholds, in percent of the filesystem holding the directory.
const (
	DiskWarningThreshold  = 80.0
	DiskCriticalThreshold = 90.0
)

// DiskStats describes usage of the filesystem holding a directory.
type DiskStats struct {
	Path         string  `json:"path"`
	TotalBytes   uint64  `json:"total_bytes"`
	FreeBytes    uint64  `json:"free_bytes"`
	UsagePercent float64 `json:"usage_percent"`
}

// StatDisk reads usage of the filesystem that holds path.
func StatDisk(path string) (*DiskStats, error) {
	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return nil, err
	}
	total := fs.Blocks * uint64(fs.Bsize)
	free := fs.Bavail * uint64(fs.Bsize)

	stats := &DiskStats{Path: path, TotalBytes: total, FreeBytes: free}
	if total > 0 {
		stats.UsagePercent = float64(total-free) / float64(total) * 100
	}
	return stats, nil
}

// DiskMonitor watches the builds and work directories. At the critical
// threshold it sweeps scratch space early.
type DiskMonitor struct {
	cleanup *Service
	stat    func(string) (*DiskStats, error)
	logger  *slog.Logger
}

// NewDiskMonitor creates a new disk monitor.
func NewDiskMonitor(cleanupSvc *Service, logger *slog.Logger) *DiskMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiskMonitor{
		cleanup: cleanupSvc,
		stat:    StatDisk,
		logger:  logger,
	}
}

// Check logs usage warnings for dir. Returns true when a sweep of workDir
// was triggered.
func (m *DiskMonitor) Check(ctx context.Context, dir, workDir, scratchPrefix string) bool {
	stats, err := m.stat(dir)
	if err != nil {
		m.logger.Debug("disk stat failed", "path", dir, "error", err)
		return false
	}

	switch {
	case stats.UsagePercent >= DiskCriticalThreshold:
		m.logger.Error("disk usage critical, sweeping scratch directories",
			"path", stats.Path,
			"usage_percent", stats.UsagePercent,
			"free_bytes", stats.FreeBytes,
		)
		if _, err := m.cleanup.SweepScratch(ctx, workDir, scratchPrefix); err != nil {
			m.logger.Error("scratch sweep failed", "error", err)
		}
		return true
	case stats.UsagePercent >= DiskWarningThreshold:
		m.logger.Warn("disk usage warning",
			"path", stats.Path,
			"usage_percent", stats.UsagePercent,
			"free_bytes", stats.FreeBytes,
		)
	}
	return false
}
