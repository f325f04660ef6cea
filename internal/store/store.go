// Package store provides database access interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/narvanalabs/sitekiln/internal/models"
)

// Common store errors.
var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrDuplicateKey is returned when a unique constraint would be violated.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrInvalidCredentials is returned when authentication fails.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrQuotaExhausted is returned when a user has no build slots left today.
	ErrQuotaExhausted = errors.New("daily build quota exhausted")
)

// UserStore defines operations for user management.
type UserStore interface {
	// Create creates a new user with a bcrypt-hashed password.
	Create(ctx context.Context, email, password string, isAdmin bool) (*models.User, error)
	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id string) (*models.User, error)
	// GetByEmail retrieves a user by email.
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	// Authenticate verifies credentials and returns the user.
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	// List retrieves all users ordered by creation time.
	List(ctx context.Context) ([]*models.User, error)
	// ConsumeBuild takes one build slot for day, resetting the counter when the
	// stored day differs. Returns the used count after consuming, or
	// ErrQuotaExhausted (with the current used count) when limit is reached.
	ConsumeBuild(ctx context.Context, userID, day string, limit int) (int, error)
	// RefundBuild gives back one slot taken on day. Refunds for another day are ignored.
	RefundBuild(ctx context.Context, userID, day string) error
}

// JobStore defines read and webhook-side operations on build jobs.
// Claiming and local completion go through queue.Queue.
type JobStore interface {
	// Create inserts a job as given (used for remote jobs created as running).
	Create(ctx context.Context, job *models.BuildJob) error
	// Get retrieves a job by ID.
	Get(ctx context.Context, id string) (*models.BuildJob, error)
	// ListByUser returns a user's jobs newest-first, at most limit rows.
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.BuildJob, error)
	// ApplyCallback writes a remote job's reported status, message and artifact.
	// Returns false without writing when the job is already terminal.
	ApplyCallback(ctx context.Context, id string, status models.BuildStatus, message string, artifactID *string) (bool, error)
	// FailRunning marks running jobs on channel that started before
	// startedBefore as failed with message.
	FailRunning(ctx context.Context, channel models.BuildChannel, startedBefore time.Time, message string) (int64, error)
	// CountByStatus returns job counts keyed by status.
	CountByStatus(ctx context.Context) (map[models.BuildStatus]int64, error)
}

// ArtifactStore defines operations on build artifacts.
type ArtifactStore interface {
	// Create inserts an artifact row.
	Create(ctx context.Context, artifact *models.BuildArtifact) error
	// Get retrieves an artifact by ID.
	Get(ctx context.Context, id string) (*models.BuildArtifact, error)
	// ListByUser returns a user's artifacts newest-first.
	ListByUser(ctx context.Context, userID string) ([]*models.BuildArtifact, error)
	// Delete removes an artifact row. Deleting a missing row is not an error.
	Delete(ctx context.Context, id string) error
}

// ProfileStore defines operations on build profiles.
type ProfileStore interface {
	// Get retrieves the profile of a user.
	Get(ctx context.Context, userID string) (*models.BuildProfile, error)
	// Save creates or overwrites the profile of a user.
	Save(ctx context.Context, profile *models.BuildProfile) error
}

// Store is the main interface for database operations.
type Store interface {
	// Users returns the UserStore for user operations.
	Users() UserStore
	// Jobs returns the JobStore for build job operations.
	Jobs() JobStore
	// Artifacts returns the ArtifactStore for artifact operations.
	Artifacts() ArtifactStore
	// Profiles returns the ProfileStore for build profile operations.
	Profiles() ProfileStore

	// WithTx executes the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	// Otherwise, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Ping checks that the database is reachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
