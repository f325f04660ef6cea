package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/narvanalabs/sitekiln/internal/cleanup"
	"github.com/narvanalabs/sitekiln/internal/models"
	storepg "github.com/narvanalabs/sitekiln/internal/store/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupStore(t *testing.T) *storepg.PostgresStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.BuildJob{}, &models.BuildArtifact{}))
	return storepg.New(db, nil)
}

func remoteJob(t *testing.T, s *storepg.PostgresStore, userID string, status models.BuildStatus) *models.BuildJob {
	t.Helper()
	job := &models.BuildJob{
		ID:           uuid.New().String(),
		UserID:       userID,
		TemplateName: "gh-site",
		Channel:      models.BuildChannelRemote,
		Status:       status,
		Message:      "Dispatched to GitHub Actions",
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, s.Jobs().Create(context.Background(), job))
	return job
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"jobId":"j1","status":"success"}`)
	good := Sign("s3cret", body)

	tests := []struct {
		name    string
		secret  string
		header  string
		wantErr bool
	}{
		{"valid with prefix", "s3cret", good, false},
		{"valid without prefix", "s3cret", good[len("sha256="):], false},
		{"wrong secret", "other", good, true},
		{"missing header", "s3cret", "", true},
		{"missing secret", "", good, true},
		{"not hex", "s3cret", "sha256=zz", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(tt.secret, body, tt.header)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSignature)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPayloadValidate(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		wantErr bool
	}{
		{"ok", Payload{JobID: "j", Status: models.BuildStatusFailed}, false},
		{"missing job", Payload{Status: models.BuildStatusFailed}, true},
		{"missing status", Payload{JobID: "j"}, true},
		{"unknown status", Payload{JobID: "j", Status: "done"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPayload)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestApplySuccessCreatesArtifact(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	job := remoteJob(t, s, uuid.New().String(), models.BuildStatusRunning)

	r := NewReconciler(s, nil, nil, nil)
	res, err := r.Apply(ctx, &Payload{
		JobID:            job.ID,
		Status:           models.BuildStatusSuccess,
		Message:          "done",
		ArtifactURL:      "cdn.example.com/a.zip",
		ArtifactFilename: "a.zip",
	})
	require.NoError(t, err)
	assert.False(t, res.Ignored)
	require.NotEmpty(t, res.ArtifactID)

	got, err := s.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BuildStatusSuccess, got.Status)
	assert.Equal(t, "done", got.Message)
	require.NotNil(t, got.ArtifactID)
	assert.Equal(t, res.ArtifactID, *got.ArtifactID)

	artifact, err := s.Artifacts().Get(ctx, res.ArtifactID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.zip", artifact.OutputPath)
	assert.Equal(t, job.UserID, artifact.UserID)
}

func TestApplyIgnoresTerminalJobs(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	job := remoteJob(t, s, uuid.New().String(), models.BuildStatusFailed)

	r := NewReconciler(s, nil, nil, nil)
	res, err := r.Apply(ctx, &Payload{
		JobID:       job.ID,
		Status:      models.BuildStatusSuccess,
		ArtifactURL: "https://cdn.example.com/a.zip",
	})
	require.NoError(t, err)
	assert.True(t, res.Ignored)

	got, err := s.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BuildStatusFailed, got.Status)
	artifacts, err := s.Artifacts().ListByUser(ctx, job.UserID)
	require.NoError(t, err)
	assert.Empty(t, artifacts)
}

func TestApplyIgnoresLocalJobs(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	job := remoteJob(t, s, uuid.New().String(), models.BuildStatusRunning)
	require.NoError(t, s.DB().Model(&models.BuildJob{}).Where("id = ?", job.ID).
		Update("channel", models.BuildChannelLocal).Error)

	res, err := NewReconciler(s, nil, nil, nil).Apply(ctx, &Payload{JobID: job.ID, Status: models.BuildStatusFailed})
	require.NoError(t, err)
	assert.True(t, res.Ignored)

	got, err := s.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BuildStatusRunning, got.Status)
}

func TestApplyUnknownJob(t *testing.T) {
	s := setupStore(t)
	r := NewReconciler(s, nil, nil, nil)
	_, err := r.Apply(context.Background(), &Payload{JobID: uuid.New().String(), Status: models.BuildStatusFailed})
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestApplyFailureWithoutArtifact(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	job := remoteJob(t, s, uuid.New().String(), models.BuildStatusRunning)

	res, err := NewReconciler(s, nil, nil, nil).Apply(ctx, &Payload{
		JobID:   job.ID,
		Status:  models.BuildStatusFailed,
		Message: "workflow failed",
	})
	require.NoError(t, err)
	assert.Empty(t, res.ArtifactID)

	got, err := s.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BuildStatusFailed, got.Status)
	assert.Nil(t, got.ArtifactID)
}

func TestApplyPrunesOwnerArtifacts(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	user := uuid.New().String()
	pruner, err := cleanup.NewService(s.Artifacts(), cleanup.Settings{ArtifactRetention: 2, ScratchMaxAge: time.Hour}, nil)
	require.NoError(t, err)
	r := NewReconciler(s, pruner, nil, nil)

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		job := remoteJob(t, s, user, models.BuildStatusRunning)
		r.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		_, err := r.Apply(ctx, &Payload{JobID: job.ID, Status: models.BuildStatusSuccess, ArtifactURL: "https://x/" + job.ID})
		require.NoError(t, err)
	}

	artifacts, err := s.Artifacts().ListByUser(ctx, user)
	require.NoError(t, err)
	assert.Len(t, artifacts, 2)
}

// **Feature: sitekiln, Property 7: Webhook Signature Rejection**
// For any body and any tampering of it, verification with the original
// signature fails.
func TestSignatureProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("tampered bodies are rejected", prop.ForAll(
		func(body string, extra string) bool {
			sig := Sign("secret", []byte(body))
			if VerifySignature("secret", []byte(body), sig) != nil {
				return false
			}
			return VerifySignature("secret", []byte(body+"x"+extra), sig) != nil
		},
		gen.AnyString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
