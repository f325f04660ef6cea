package builder

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthComponentStatus represents the health status of a single component.
type HealthComponentStatus struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status     HealthStatus                     `json:"status"`
	Components map[string]HealthComponentStatus `json:"components"`
	Version    string                           `json:"version"`
	Uptime     string                           `json:"uptime"`
	CurrentJob string                           `json:"currentJob,omitempty"`
}

// WorkerVersion is set at build time using ldflags.
var WorkerVersion = "dev"

// Pinger checks a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// JobTracker exposes what the worker is doing.
type JobTracker interface {
	Busy() bool
	CurrentJob() (string, bool)
}

// DiskChecker reports filesystem usage.
type DiskChecker func(path string) (usagePercent float64, err error)

// WorkerHealthChecker performs health checks for the worker.
type WorkerHealthChecker struct {
	db        Pinger
	worker    JobTracker
	disk      DiskChecker
	diskPaths []string
	startTime time.Time
	version   string
	timeout   time.Duration
	mu        sync.RWMutex
}

// NewWorkerHealthChecker creates a new worker health checker. worker and disk may be nil.
func NewWorkerHealthChecker(db Pinger, worker JobTracker, version string) *WorkerHealthChecker {
	return &WorkerHealthChecker{
		db:        db,
		worker:    worker,
		startTime: time.Now(),
		version:   version,
		timeout:   5 * time.Second,
	}
}

// WatchDisk adds a disk usage component for paths.
func (c *WorkerHealthChecker) WatchDisk(check DiskChecker, paths ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disk = check
	c.diskPaths = paths
}

// SetTimeout sets the timeout for health checks.
func (c *WorkerHealthChecker) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = timeout
}

// Check performs all health checks and returns the aggregated response.
func (c *WorkerHealthChecker) Check(ctx context.Context) *HealthResponse {
	c.mu.RLock()
	timeout := c.timeout
	disk, paths := c.disk, c.diskPaths
	c.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	components := map[string]HealthComponentStatus{
		"database": c.checkDatabase(checkCtx),
	}
	if disk != nil && len(paths) > 0 {
		components["disk"] = checkDisk(disk, paths)
	}

	resp := &HealthResponse{
		Status:     overall(components),
		Components: components,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
	}
	if c.worker != nil {
		if id, ok := c.worker.CurrentJob(); ok {
			resp.CurrentJob = id
		}
	}
	return resp
}

func overall(components map[string]HealthComponentStatus) HealthStatus {
	status := HealthStatusHealthy
	for _, comp := range components {
		if comp.Status == HealthStatusUnhealthy {
			return HealthStatusUnhealthy
		}
		if comp.Status == HealthStatusDegraded {
			status = HealthStatusDegraded
		}
	}
	return status
}

func (c *WorkerHealthChecker) checkDatabase(ctx context.Context) HealthComponentStatus {
	if c.db == nil {
		return HealthComponentStatus{
			Status:  HealthStatusUnhealthy,
			Message: "database connection not configured",
		}
	}
	if err := c.db.Ping(ctx); err != nil {
		return HealthComponentStatus{
			Status:  HealthStatusUnhealthy,
			Message: "database ping failed: " + err.Error(),
		}
	}
	return HealthComponentStatus{Status: HealthStatusHealthy, Message: "connected"}
}

// checkDisk degrades at 80% and fails at 95% usage on any watched path.
func checkDisk(check DiskChecker, paths []string) HealthComponentStatus {
	worst := HealthComponentStatus{Status: HealthStatusHealthy, Message: "ok"}
	for _, p := range paths {
		usage, err := check(p)
		if err != nil {
			return HealthComponentStatus{Status: HealthStatusDegraded, Message: "stat " + p + ": " + err.Error()}
		}
		switch {
		case usage >= 95:
			return HealthComponentStatus{Status: HealthStatusUnhealthy, Message: p + " is almost full"}
		case usage >= 80:
			worst = HealthComponentStatus{Status: HealthStatusDegraded, Message: p + " is filling up"}
		}
	}
	return worst
}

// Handler returns an HTTP handler for health checks.
func (c *WorkerHealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := c.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if response.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(response)
	}
}
