// Package health reports whether the API process can serve builds: the
// database answers, the job backlog can be read and the template and
// artifact directories exist.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/narvanalabs/sitekiln/internal/models"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// ComponentStatus represents the health status of a single component.
type ComponentStatus struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the body of GET /health.
type Response struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentStatus `json:"components"`
	Version    string                     `json:"version"`
	Uptime     string                     `json:"uptime"`
}

// Pinger is implemented by the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// JobCounter reports job counts by status.
type JobCounter interface {
	CountByStatus(ctx context.Context) (map[models.BuildStatus]int64, error)
}

// probe checks one component.
type probe func(ctx context.Context) ComponentStatus

// Checker performs health checks for the API process.
type Checker struct {
	mu        sync.RWMutex
	probes    map[string]probe
	startTime time.Time
	version   string
	timeout   time.Duration
}

// NewChecker creates a checker that always reports the database.
func NewChecker(db Pinger, version string) *Checker {
	c := &Checker{
		probes:    make(map[string]probe),
		startTime: time.Now(),
		version:   version,
		timeout:   5 * time.Second,
	}
	c.probes["database"] = func(ctx context.Context) ComponentStatus {
		return checkDatabase(ctx, db)
	}
	return c
}

// WatchQueue adds a queue component that reports pending and running jobs.
func (c *Checker) WatchQueue(jobs JobCounter) {
	c.add("queue", func(ctx context.Context) ComponentStatus {
		return checkQueue(ctx, jobs)
	})
}

// WatchDirs adds a storage component. A missing directory degrades the
// service: status reads still work but uploads and downloads do not.
func (c *Checker) WatchDirs(paths ...string) {
	c.add("storage", func(context.Context) ComponentStatus {
		return checkDirs(paths)
	})
}

// SetTimeout sets the timeout for health checks.
func (c *Checker) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = timeout
}

func (c *Checker) add(name string, p probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = p
}

// Check runs every probe and aggregates the result. Unhealthy wins over
// degraded.
func (c *Checker) Check(ctx context.Context) *Response {
	c.mu.RLock()
	timeout := c.timeout
	probes := make(map[string]probe, len(c.probes))
	for name, p := range c.probes {
		probes[name] = p
	}
	c.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp := &Response{
		Status:     StatusHealthy,
		Components: make(map[string]ComponentStatus, len(probes)),
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
	}
	for name, p := range probes {
		status := p(checkCtx)
		resp.Components[name] = status
		switch {
		case status.Status == StatusUnhealthy:
			resp.Status = StatusUnhealthy
		case status.Status == StatusDegraded && resp.Status == StatusHealthy:
			resp.Status = StatusDegraded
		}
	}
	return resp
}

func checkDatabase(ctx context.Context, db Pinger) ComponentStatus {
	if db == nil {
		return ComponentStatus{Status: StatusUnhealthy, Message: "database connection not configured"}
	}
	if err := db.Ping(ctx); err != nil {
		return ComponentStatus{Status: StatusUnhealthy, Message: "database ping failed: " + err.Error()}
	}
	return ComponentStatus{Status: StatusHealthy, Message: "connected"}
}

// checkQueue reports the backlog. A failing count only degrades the
// service because the database component already covers connectivity.
func checkQueue(ctx context.Context, jobs JobCounter) ComponentStatus {
	counts, err := jobs.CountByStatus(ctx)
	if err != nil {
		return ComponentStatus{Status: StatusDegraded, Message: "counting jobs failed: " + err.Error()}
	}
	return ComponentStatus{
		Status: StatusHealthy,
		Message: fmt.Sprintf("%d pending, %d running",
			counts[models.BuildStatusPending], counts[models.BuildStatusRunning]),
	}
}

func checkDirs(paths []string) ComponentStatus {
	var missing []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return ComponentStatus{Status: StatusDegraded, Message: "missing: " + strings.Join(missing, ", ")}
	}
	return ComponentStatus{Status: StatusHealthy}
}

// Handler serves the aggregated status. Degraded still answers 200 so load
// balancers keep routing reads.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := c.Check(r.Context())

		code := http.StatusOK
		if resp.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(resp)
	}
}
