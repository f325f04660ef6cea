package cleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/narvanalabs/sitekiln/internal/models"
	"github.com/narvanalabs/sitekiln/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockArtifactStore is an in-memory store.ArtifactStore.
type mockArtifactStore struct {
	mu        sync.Mutex
	artifacts map[string]*models.BuildArtifact
}

func newMockArtifactStore() *mockArtifactStore {
	return &mockArtifactStore{artifacts: make(map[string]*models.BuildArtifact)}
}

func (m *mockArtifactStore) Create(_ context.Context, a *models.BuildArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.artifacts[a.ID]; ok {
		return store.ErrDuplicateKey
	}
	cp := *a
	m.artifacts[a.ID] = &cp
	return nil
}

func (m *mockArtifactStore) Get(_ context.Context, id string) (*models.BuildArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockArtifactStore) ListByUser(_ context.Context, userID string) ([]*models.BuildArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.BuildArtifact
	for _, a := range m.artifacts {
		if a.UserID == userID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *mockArtifactStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.artifacts, id)
	return nil
}

func newTestService(t *testing.T, artifacts store.ArtifactStore) *Service {
	t.Helper()
	svc, err := NewService(artifacts, Settings{
		ArtifactRetention: DefaultArtifactRetention,
		ScratchMaxAge:     time.Hour,
	}, nil)
	require.NoError(t, err)
	return svc
}

func addArtifact(t *testing.T, m *mockArtifactStore, dir, userID string, n int, at time.Time) *models.BuildArtifact {
	t.Helper()
	id := fmt.Sprintf("%s-%03d", userID, n)
	path := filepath.Join(dir, id+".zip")
	require.NoError(t, os.WriteFile(path, []byte("zip"), 0o644))
	a := &models.BuildArtifact{
		ID:           id,
		UserID:       userID,
		TemplateName: "demo",
		OutputPath:   path,
		Filename:     id + ".zip",
		CreatedAt:    at,
	}
	require.NoError(t, m.Create(context.Background(), a))
	return a
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		wantErr  bool
	}{
		{"defaults", Settings{ArtifactRetention: 2, ScratchMaxAge: time.Hour}, false},
		{"zero retention", Settings{ArtifactRetention: 0, ScratchMaxAge: time.Hour}, true},
		{"negative age", Settings{ArtifactRetention: 2, ScratchMaxAge: -time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.settings.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	m := newMockArtifactStore()
	svc := newTestService(t, m)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var all []*models.BuildArtifact
	for i := 0; i < 4; i++ {
		all = append(all, addArtifact(t, m, dir, "u1", i, base.Add(time.Duration(i)*time.Minute)))
	}

	result, err := svc.Prune(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.ItemsRemoved)
	assert.Equal(t, int64(6), result.SpaceFreed)

	left, _ := m.ListByUser(context.Background(), "u1")
	require.Len(t, left, 2)
	assert.Equal(t, all[3].ID, left[0].ID)
	assert.Equal(t, all[2].ID, left[1].ID)

	for _, a := range all[:2] {
		_, err := os.Stat(a.OutputPath)
		assert.True(t, os.IsNotExist(err), "file of pruned artifact %s still exists", a.ID)
	}
	for _, a := range all[2:] {
		assert.FileExists(t, a.OutputPath)
	}

	again, err := svc.Prune(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, again.ItemsRemoved)
}

func TestPruneScopedToUser(t *testing.T) {
	dir := t.TempDir()
	m := newMockArtifactStore()
	svc := newTestService(t, m)
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		addArtifact(t, m, dir, "u1", i, base.Add(time.Duration(i)*time.Second))
		addArtifact(t, m, dir, "u2", i, base.Add(time.Duration(i)*time.Second))
	}

	_, err := svc.Prune(context.Background(), "u1")
	require.NoError(t, err)

	u1, _ := m.ListByUser(context.Background(), "u1")
	u2, _ := m.ListByUser(context.Background(), "u2")
	assert.Len(t, u1, 2)
	assert.Len(t, u2, 3)
}

func TestPruneToleratesMissingAndRemoteFiles(t *testing.T) {
	dir := t.TempDir()
	m := newMockArtifactStore()
	svc := newTestService(t, m)
	base := time.Now().UTC()

	gone := addArtifact(t, m, dir, "u1", 0, base)
	require.NoError(t, os.Remove(gone.OutputPath))
	require.NoError(t, m.Create(context.Background(), &models.BuildArtifact{
		ID:         "remote",
		UserID:     "u1",
		OutputPath: "https://example.com/a.zip",
		CreatedAt:  base.Add(time.Second),
	}))
	addArtifact(t, m, dir, "u1", 2, base.Add(2*time.Second))
	addArtifact(t, m, dir, "u1", 3, base.Add(3*time.Second))

	result, err := svc.Prune(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.ItemsRemoved)
	assert.Empty(t, result.Errors)

	_, err = m.Get(context.Background(), "remote")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSweepScratch(t *testing.T) {
	work := t.TempDir()
	m := newMockArtifactStore()
	svc := newTestService(t, m)

	stale := filepath.Join(work, "build-1-abc")
	fresh := filepath.Join(work, "build-2-def")
	other := filepath.Join(work, "keep-me")
	for _, d := range []string{stale, fresh, other} {
		require.NoError(t, os.MkdirAll(filepath.Join(d, "src"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(d, "src", "f"), []byte("data"), 0o644))
	}
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.Chtimes(other, old, old))

	result, err := svc.SweepScratch(context.Background(), work, "build-")
	require.NoError(t, err)
	assert.Equal(t, 1, result.ItemsRemoved)
	assert.Equal(t, int64(4), result.SpaceFreed)
	assert.NoDirExists(t, stale)
	assert.DirExists(t, fresh)
	assert.DirExists(t, other)

	missing, err := svc.SweepScratch(context.Background(), filepath.Join(work, "nope"), "build-")
	require.NoError(t, err)
	assert.Zero(t, missing.ItemsRemoved)
}

// **Feature: sitekiln, Property 9: Artifact Retention Enforcement**
// For any number of artifacts, pruning leaves at most the retention count
// and the survivors are the newest ones.
func TestPruneRetentionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("at most two newest artifacts remain", prop.ForAll(
		func(n int) bool {
			dir := t.TempDir()
			m := newMockArtifactStore()
			svc := newTestService(t, m)
			base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

			var newest []string
			for i := 0; i < n; i++ {
				a := addArtifact(t, m, dir, "u1", i, base.Add(time.Duration(i)*time.Second))
				newest = append([]string{a.ID}, newest...)
			}
			if _, err := svc.Prune(context.Background(), "u1"); err != nil {
				return false
			}

			left, _ := m.ListByUser(context.Background(), "u1")
			want := n
			if want > DefaultArtifactRetention {
				want = DefaultArtifactRetention
			}
			if len(left) != want {
				return false
			}
			for i, a := range left {
				if a.ID != newest[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 8),
	))

	properties.TestingRun(t)
}
