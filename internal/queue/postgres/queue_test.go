package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/narvanalabs/sitekiln/internal/models"
	"github.com/narvanalabs/sitekiln/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.BuildJob{}, &models.BuildArtifact{}))
	return db
}

func enqueueAt(t testing.TB, q *PostgresQueue, created time.Time) *models.BuildJob {
	t.Helper()
	job := &models.BuildJob{
		ID:           uuid.New().String(),
		UserID:       uuid.New().String(),
		TemplateName: "demo.zip",
		EnvPayload:   "FOO=bar",
		CreatedAt:    created,
	}
	require.NoError(t, q.Enqueue(context.Background(), job))
	return job
}

func TestClaimOldestFirst(t *testing.T) {
	db := openTestDB(t)
	q := NewPostgresQueue(db, nil, nil)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	second := enqueueAt(t, q, base.Add(time.Minute))
	first := enqueueAt(t, q, base)

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, job.ID)
	assert.Equal(t, models.BuildStatusRunning, job.Status)
	assert.NotNil(t, job.StartedAt)

	job, err = q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, job.ID)

	_, err = q.Claim(ctx)
	assert.ErrorIs(t, err, queue.ErrNoJobs)
}

func TestClaimIgnoresRemoteJobs(t *testing.T) {
	db := openTestDB(t)
	q := NewPostgresQueue(db, nil, nil)

	remote := &models.BuildJob{
		ID:           uuid.New().String(),
		UserID:       uuid.New().String(),
		TemplateName: "gh-template",
		Channel:      models.BuildChannelRemote,
		Status:       models.BuildStatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, db.Create(remote).Error)

	_, err := q.Claim(context.Background())
	assert.ErrorIs(t, err, queue.ErrNoJobs)
}

func TestCompleteRecordsArtifact(t *testing.T) {
	db := openTestDB(t)
	q := NewPostgresQueue(db, nil, nil)
	ctx := context.Background()

	enqueued := enqueueAt(t, q, time.Now().UTC())
	job, err := q.Claim(ctx)
	require.NoError(t, err)

	artifact := &models.BuildArtifact{
		ID:           uuid.New().String(),
		UserID:       enqueued.UserID,
		TemplateName: enqueued.TemplateName,
		OutputPath:   "/builds/demo-20260301-120000.zip",
	}
	require.NoError(t, q.Complete(ctx, job.ID, artifact, models.BuildSuccessMessage))

	var got models.BuildJob
	require.NoError(t, db.First(&got, "id = ?", job.ID).Error)
	assert.Equal(t, models.BuildStatusSuccess, got.Status)
	assert.Equal(t, models.BuildSuccessMessage, got.Message)
	require.NotNil(t, got.ArtifactID)
	assert.Equal(t, artifact.ID, *got.ArtifactID)

	// Terminal jobs never transition again through the local path.
	assert.ErrorIs(t, q.Fail(ctx, job.ID, "late failure"), queue.ErrNotRunning)
	other := &models.BuildArtifact{ID: uuid.New().String(), UserID: enqueued.UserID, TemplateName: "x", OutputPath: "/x"}
	assert.ErrorIs(t, q.Complete(ctx, job.ID, other, "again"), queue.ErrNotRunning)

	// The rejected completion must not leave an orphan artifact row.
	var count int64
	require.NoError(t, db.Model(&models.BuildArtifact{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestFailUnknownJob(t *testing.T) {
	db := openTestDB(t)
	q := NewPostgresQueue(db, nil, nil)
	assert.ErrorIs(t, q.Fail(context.Background(), uuid.New().String(), "x"), queue.ErrJobNotFound)
}

func TestEnqueueNotifies(t *testing.T) {
	db := openTestDB(t)
	n := NewNotifier(db, nil)
	q := NewPostgresQueue(db, n, nil)

	enqueueAt(t, q, time.Now().UTC())
	enqueueAt(t, q, time.Now().UTC())

	select {
	case <-n.Wake():
	default:
		t.Fatal("expected a wake signal after enqueue")
	}
	// Wakes coalesce into a single pending signal.
	select {
	case <-n.Wake():
		t.Fatal("expected coalesced wake signals")
	default:
	}
}

// **Feature: sitekiln, Property 3: Monotonic job lifecycle**
// For any set of pending jobs processed one at a time with arbitrary outcomes,
// jobs are claimed in creation order, at most one job is running at a time,
// and terminal jobs are never moved by a later local transition.
func TestQueueLifecycleProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("claims are FIFO and terminal states stick", prop.ForAll(
		func(outcomes []bool) bool {
			db := openTestDB(t)
			q := NewPostgresQueue(db, nil, nil)
			ctx := context.Background()

			base := time.Now().UTC().Add(-time.Hour)
			var order []string
			for i := range outcomes {
				order = append(order, enqueueAt(t, q, base.Add(time.Duration(i)*time.Second)).ID)
			}

			for i, succeed := range outcomes {
				job, err := q.Claim(ctx)
				if err != nil || job.ID != order[i] {
					return false
				}

				var running int64
				db.Model(&models.BuildJob{}).Where("status = ?", models.BuildStatusRunning).Count(&running)
				if running != 1 {
					return false
				}

				if succeed {
					a := &models.BuildArtifact{ID: uuid.New().String(), UserID: job.UserID, TemplateName: job.TemplateName, OutputPath: "/x"}
					err = q.Complete(ctx, job.ID, a, models.BuildSuccessMessage)
				} else {
					err = q.Fail(ctx, job.ID, "build failed")
				}
				if err != nil {
					return false
				}
			}

			if _, err := q.Claim(ctx); err != queue.ErrNoJobs {
				return false
			}

			for i, id := range order {
				if q.Fail(ctx, id, "again") != queue.ErrNotRunning {
					return false
				}
				var job models.BuildJob
				if err := db.First(&job, "id = ?", id).Error; err != nil {
					return false
				}
				want := models.BuildStatusFailed
				if outcomes[i] {
					want = models.BuildStatusSuccess
				}
				if job.Status != want {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(6, gen.Bool()),
	))

	properties.TestingRun(t)
}
