// Package events publishes build job lifecycle events to NATS JetStream.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// StreamName is the JetStream stream holding job events.
const StreamName = "SITEKILN_JOBS"

// SubjectPrefix prefixes every job event subject.
const SubjectPrefix = "sitekiln.jobs"

// Type names a lifecycle transition.
type Type string

const (
	TypeQueued     Type = "queued"
	TypeStarted    Type = "started"
	TypeSucceeded  Type = "succeeded"
	TypeFailed     Type = "failed"
	TypeDispatched Type = "dispatched"
)

// Event describes one job transition.
type Event struct {
	Type       Type      `json:"type"`
	JobID      string    `json:"jobId"`
	UserID     string    `json:"userId"`
	Template   string    `json:"template"`
	Message    string    `json:"message,omitempty"`
	ArtifactID string    `json:"artifactId,omitempty"`
	At         time.Time `json:"at"`
}

// Subject returns the subject an event is published on.
func (e Event) Subject() string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, e.Type)
}

// Publisher emits job events. Publishing is best effort and must never block
// job state changes.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close()
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close()                               {}

// NATSPublisher publishes events on a JetStream stream.
type NATSPublisher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *slog.Logger
}

// NewNATSPublisher connects to url and makes sure the job stream exists.
func NewNATSPublisher(url string, logger *slog.Logger, opts ...nats.Option) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]nats.Option{nats.Name("sitekiln")}, opts...)

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("opening jetstream: %w", err)
	}

	if _, err := js.StreamInfo(StreamName); errors.Is(err, nats.ErrStreamNotFound) {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     StreamName,
			Subjects: []string{SubjectPrefix + ".>"},
			MaxAge:   7 * 24 * time.Hour,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("creating stream: %w", err)
		}
	} else if err != nil {
		nc.Close()
		return nil, fmt.Errorf("reading stream info: %w", err)
	}

	return &NATSPublisher{conn: nc, js: js, logger: logger}, nil
}

// Publish encodes e as JSON and publishes it.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if p == nil {
		return errors.New("nil publisher")
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(e.Subject(), data, nats.Context(ctx))
	return err
}

// Close drains the connection.
func (p *NATSPublisher) Close() {
	if p == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// Emit publishes e and logs instead of returning failures.
func Emit(ctx context.Context, p Publisher, logger *slog.Logger, e Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		logger.Warn("failed to publish job event", "type", e.Type, "job_id", e.JobID, "error", err)
	}
}
