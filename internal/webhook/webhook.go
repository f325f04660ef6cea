// Package webhook verifies and applies build callbacks sent by the remote
// build workflow.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/narvanalabs/sitekiln/internal/cleanup"
	"github.com/narvanalabs/sitekiln/internal/events"
	"github.com/narvanalabs/sitekiln/internal/models"
	"github.com/narvanalabs/sitekiln/internal/store"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Signature-256"

const signaturePrefix = "sha256="

var (
	// ErrInvalidSignature is returned for a missing secret, a missing header or a mismatch.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrInvalidPayload is returned when required fields are missing or malformed.
	ErrInvalidPayload = errors.New("invalid webhook payload")
	// ErrJobNotFound is returned when the callback names an unknown job.
	ErrJobNotFound = errors.New("job not found")

	errAlreadyTerminal = errors.New("job already terminal")
)

// Sign returns the header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against the HMAC of body. The sha256=
// prefix is optional.
func VerifySignature(secret string, body []byte, header string) error {
	if secret == "" || header == "" {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(header), signaturePrefix))
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// Payload is the callback body.
type Payload struct {
	JobID            string             `json:"jobId"`
	Status           models.BuildStatus `json:"status"`
	Message          string             `json:"message,omitempty"`
	ArtifactURL      string             `json:"artifactUrl,omitempty"`
	ArtifactFilename string             `json:"artifactFilename,omitempty"`
}

// Validate checks required fields.
func (p *Payload) Validate() error {
	if strings.TrimSpace(p.JobID) == "" {
		return fmt.Errorf("%w: jobId is required", ErrInvalidPayload)
	}
	if p.Status == "" {
		return fmt.Errorf("%w: status is required", ErrInvalidPayload)
	}
	if !p.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidPayload, p.Status)
	}
	return nil
}

// Result reports what a callback changed.
type Result struct {
	Ignored    bool
	ArtifactID string
}

// Pruner enforces artifact retention for a user.
type Pruner interface {
	Prune(ctx context.Context, userID string) (*cleanup.CleanupResult, error)
}

// Reconciler applies callbacks to remote jobs.
type Reconciler struct {
	store  store.Store
	pruner Pruner
	events events.Publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewReconciler creates a Reconciler. pruner and pub may be nil.
func NewReconciler(s store.Store, pruner Pruner, pub events.Publisher, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Reconciler{store: s, pruner: pruner, events: pub, logger: logger, now: time.Now}
}

// Apply writes a validated callback. Callbacks for terminal or local jobs
// change nothing and come back with Ignored set.
func (r *Reconciler) Apply(ctx context.Context, p *Payload) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	job, err := r.store.Jobs().Get(ctx, p.JobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading job: %w", err)
	}
	logger := r.logger.With("job_id", job.ID, "status", p.Status)
	if job.Status.IsTerminal() {
		logger.Info("ignoring callback for finished job", "current_status", job.Status)
		return &Result{Ignored: true}, nil
	}
	// Local jobs belong to the worker.
	if job.Channel != models.BuildChannelRemote {
		logger.Warn("ignoring callback for local job")
		return &Result{Ignored: true}, nil
	}

	result := &Result{}
	err = r.store.WithTx(ctx, func(tx store.Store) error {
		var artifactID *string
		if p.Status == models.BuildStatusSuccess && strings.TrimSpace(p.ArtifactURL) != "" {
			artifact := &models.BuildArtifact{
				ID:           uuid.New().String(),
				UserID:       job.UserID,
				TemplateName: job.TemplateName,
				OutputPath:   models.NormalizeArtifactURL(p.ArtifactURL),
				Filename:     p.ArtifactFilename,
				CreatedAt:    r.now().UTC(),
			}
			if err := tx.Artifacts().Create(ctx, artifact); err != nil {
				return fmt.Errorf("creating artifact: %w", err)
			}
			artifactID = &artifact.ID
		}

		applied, err := tx.Jobs().ApplyCallback(ctx, job.ID, p.Status, p.Message, artifactID)
		if err != nil {
			return err
		}
		if !applied {
			return errAlreadyTerminal
		}
		if artifactID != nil {
			result.ArtifactID = *artifactID
		}
		return nil
	})
	switch {
	case errors.Is(err, errAlreadyTerminal):
		return &Result{Ignored: true}, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrJobNotFound
	case err != nil:
		return nil, fmt.Errorf("applying callback: %w", err)
	}

	logger.Info("applied build callback", "artifact_id", result.ArtifactID)
	r.emit(ctx, job, p, result.ArtifactID)

	if result.ArtifactID != "" && r.pruner != nil {
		if _, err := r.pruner.Prune(ctx, job.UserID); err != nil {
			logger.Error("artifact retention failed", "error", err)
		}
	}
	return result, nil
}

func (r *Reconciler) emit(ctx context.Context, job *models.BuildJob, p *Payload, artifactID string) {
	var typ events.Type
	switch p.Status {
	case models.BuildStatusSuccess:
		typ = events.TypeSucceeded
	case models.BuildStatusFailed:
		typ = events.TypeFailed
	default:
		return
	}
	events.Emit(ctx, r.events, r.logger, events.Event{
		Type:       typ,
		JobID:      job.ID,
		UserID:     job.UserID,
		Template:   job.TemplateName,
		Message:    p.Message,
		ArtifactID: artifactID,
		At:         r.now().UTC(),
	})
}
