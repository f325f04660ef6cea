// Package metrics tracks build outcomes and exports them to Prometheus.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BuildMetrics contains the outcome of one worker build.
type BuildMetrics struct {
	JobID    string `json:"job_id"`
	Template string `json:"template"`
	Manager  string `json:"manager,omitempty"`

	// QueueWait is the time between enqueue and claim.
	QueueWait time.Duration `json:"queue_wait"`
	BuildTime time.Duration `json:"build_time"`

	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// MetricsFilter defines criteria for filtering aggregate metrics.
type MetricsFilter struct {
	Template  string     `json:"template,omitempty"`
	Manager   string     `json:"manager,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Success   *bool      `json:"success,omitempty"`
}

// AggregateMetrics summarizes recorded builds.
type AggregateMetrics struct {
	TotalBuilds      int           `json:"total_builds"`
	SuccessfulBuilds int           `json:"successful_builds"`
	FailedBuilds     int           `json:"failed_builds"`
	SuccessRate      float64       `json:"success_rate"`
	AvgBuildTime     time.Duration `json:"avg_build_time"`
	MaxBuildTime     time.Duration `json:"max_build_time"`
	MinBuildTime     time.Duration `json:"min_build_time"`
	AvgQueueWait     time.Duration `json:"avg_queue_wait"`

	ByManager map[string]int `json:"by_manager,omitempty"`
}

// BuildMetricsCollector tracks build performance data.
type BuildMetricsCollector interface {
	// RecordMetrics records metrics for a finished build.
	RecordMetrics(ctx context.Context, metrics *BuildMetrics) error

	// GetMetrics retrieves metrics for a job.
	GetMetrics(ctx context.Context, jobID string) (*BuildMetrics, error)

	// GetAggregateMetrics summarizes the recorded builds matching filter.
	GetAggregateMetrics(ctx context.Context, filter MetricsFilter) (*AggregateMetrics, error)
}

// Collector keeps recent build metrics in memory and mirrors them into
// Prometheus collectors.
type Collector struct {
	storage map[string]*BuildMetrics
	mu      sync.RWMutex

	retentionPeriod time.Duration

	builds    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	queueWait prometheus.Histogram
	inFlight  prometheus.Gauge
}

// CollectorOption is a functional option for configuring Collector.
type CollectorOption func(*Collector)

// WithRetentionPeriod sets how long recorded builds stay in memory.
func WithRetentionPeriod(period time.Duration) CollectorOption {
	return func(c *Collector) {
		c.retentionPeriod = period
	}
}

// NewCollector creates a Collector and registers its Prometheus collectors
// with reg. A nil reg leaves them unregistered.
func NewCollector(reg prometheus.Registerer, opts ...CollectorOption) *Collector {
	c := &Collector{
		storage:         make(map[string]*BuildMetrics),
		retentionPeriod: 24 * time.Hour,
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sitekiln",
			Subsystem: "worker",
			Name:      "builds_total",
			Help:      "Finished worker builds by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sitekiln",
			Subsystem: "worker",
			Name:      "build_duration_seconds",
			Help:      "Wall time of worker builds.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"outcome"}),
		queueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sitekiln",
			Subsystem: "worker",
			Name:      "queue_wait_seconds",
			Help:      "Time jobs spend pending before they are claimed.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sitekiln",
			Subsystem: "worker",
			Name:      "builds_in_flight",
			Help:      "1 while the worker is running a build.",
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if reg != nil {
		reg.MustRegister(c.builds, c.duration, c.queueWait, c.inFlight)
	}
	return c
}

// SetInFlight flags whether a build is running.
func (c *Collector) SetInFlight(running bool) {
	if running {
		c.inFlight.Set(1)
		return
	}
	c.inFlight.Set(0)
}

// RecordMetrics records metrics for a finished build.
func (c *Collector) RecordMetrics(ctx context.Context, m *BuildMetrics) error {
	if m == nil {
		return ErrNilMetrics
	}
	if m.JobID == "" {
		return ErrEmptyJobID
	}

	if m.CompletedAt == nil {
		now := time.Now()
		m.CompletedAt = &now
	}

	outcome := "failed"
	if m.Success {
		outcome = "success"
	}
	c.builds.WithLabelValues(outcome).Inc()
	c.duration.WithLabelValues(outcome).Observe(m.BuildTime.Seconds())
	if m.QueueWait > 0 {
		c.queueWait.Observe(m.QueueWait.Seconds())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stored := *m
	c.storage[m.JobID] = &stored
	c.evictLocked(time.Now())
	return nil
}

// GetMetrics retrieves metrics for a job.
func (c *Collector) GetMetrics(ctx context.Context, jobID string) (*BuildMetrics, error) {
	if jobID == "" {
		return nil, ErrEmptyJobID
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.storage[jobID]
	if !ok {
		return nil, ErrMetricsNotFound
	}
	result := *m
	return &result, nil
}

// GetAggregateMetrics summarizes the recorded builds matching filter.
func (c *Collector) GetAggregateMetrics(ctx context.Context, filter MetricsFilter) (*AggregateMetrics, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	agg := &AggregateMetrics{ByManager: make(map[string]int)}

	var totalBuild, totalWait time.Duration
	for _, m := range c.storage {
		if !matchesFilter(m, filter) {
			continue
		}

		agg.TotalBuilds++
		if m.Success {
			agg.SuccessfulBuilds++
		} else {
			agg.FailedBuilds++
		}
		if m.Manager != "" {
			agg.ByManager[m.Manager]++
		}

		totalBuild += m.BuildTime
		totalWait += m.QueueWait
		if m.BuildTime > agg.MaxBuildTime {
			agg.MaxBuildTime = m.BuildTime
		}
		if agg.MinBuildTime == 0 || m.BuildTime < agg.MinBuildTime {
			agg.MinBuildTime = m.BuildTime
		}
	}

	if agg.TotalBuilds > 0 {
		n := time.Duration(agg.TotalBuilds)
		agg.SuccessRate = float64(agg.SuccessfulBuilds) / float64(agg.TotalBuilds)
		agg.AvgBuildTime = totalBuild / n
		agg.AvgQueueWait = totalWait / n
	}
	return agg, nil
}

func matchesFilter(m *BuildMetrics, filter MetricsFilter) bool {
	if filter.Template != "" && m.Template != filter.Template {
		return false
	}
	if filter.Manager != "" && m.Manager != filter.Manager {
		return false
	}
	if filter.StartTime != nil && m.StartedAt.Before(*filter.StartTime) {
		return false
	}
	if filter.EndTime != nil && m.StartedAt.After(*filter.EndTime) {
		return false
	}
	if filter.Success != nil && m.Success != *filter.Success {
		return false
	}
	return true
}

// evictLocked drops entries older than the retention period. c.mu must be held.
func (c *Collector) evictLocked(now time.Time) {
	cutoff := now.Add(-c.retentionPeriod)
	for id, m := range c.storage {
		if m.CompletedAt != nil && m.CompletedAt.Before(cutoff) {
			delete(c.storage, id)
		}
	}
}
