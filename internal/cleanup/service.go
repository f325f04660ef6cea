// Package cleanup enforces artifact retention and removes leftover build scratch space.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/narvanalabs/sitekiln/internal/models"
	"github.com/narvanalabs/sitekiln/internal/store"
)

// Default values for cleanup settings.
const (
	DefaultArtifactRetention = 2
	DefaultScratchMaxAge     = 6 * time.Hour
)

// Settings holds cleanup configuration.
type Settings struct {
	// ArtifactRetention is how many artifacts each user keeps.
	ArtifactRetention int `json:"artifact_retention"`
	// ScratchMaxAge is how old a scratch directory must be before a sweep removes it.
	ScratchMaxAge time.Duration `json:"scratch_max_age"`
}

// Validate checks that retention values are positive.
func (s *Settings) Validate() error {
	if s.ArtifactRetention <= 0 {
		return fmt.Errorf("artifact_retention must be positive, got %d", s.ArtifactRetention)
	}
	if s.ScratchMaxAge <= 0 {
		return fmt.Errorf("scratch_max_age must be positive, got %v", s.ScratchMaxAge)
	}
	return nil
}

// CleanupResult holds the result of a cleanup operation.
type CleanupResult struct {
	ItemsRemoved int           `json:"items_removed"`
	SpaceFreed   int64         `json:"space_freed_bytes"`
	Errors       []string      `json:"errors,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Service prunes artifacts and scratch directories.
type Service struct {
	artifacts store.ArtifactStore
	settings  Settings
	logger    *slog.Logger
}

// NewService creates a new cleanup service.
func NewService(artifacts store.ArtifactStore, settings Settings, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		artifacts: artifacts,
		settings:  settings,
		logger:    logger,
	}, nil
}

// Settings returns the active settings.
func (s *Service) Settings() Settings {
	return s.settings
}

// Prune keeps the newest ArtifactRetention artifacts of userID and deletes the
// rest, file first and then row. A file that is already gone counts as
// deleted and remote artifacts have no file. Running it again without new
// artifacts does nothing.
func (s *Service) Prune(ctx context.Context, userID string) (*CleanupResult, error) {
	start := time.Now()
	result := &CleanupResult{}

	artifacts, err := s.artifacts.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	if len(artifacts) <= s.settings.ArtifactRetention {
		return result, nil
	}

	for _, a := range artifacts[s.settings.ArtifactRetention:] {
		if a.UserID != userID {
			continue
		}
		freed, err := removeArtifactFile(a)
		if err != nil {
			s.logger.Error("failed to remove artifact file", "artifact_id", a.ID, "path", a.OutputPath, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("failed to remove file of artifact %s: %v", a.ID, err))
			continue
		}
		if err := s.artifacts.Delete(ctx, a.ID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to delete artifact %s: %v", a.ID, err))
			continue
		}
		result.ItemsRemoved++
		result.SpaceFreed += freed
	}

	result.Duration = time.Since(start)
	s.logger.Info("pruned artifacts",
		"user_id", userID,
		"kept", s.settings.ArtifactRetention,
		"removed", result.ItemsRemoved,
		"errors", len(result.Errors),
	)
	return result, nil
}

func removeArtifactFile(a *models.BuildArtifact) (int64, error) {
	if a.IsRemote() || a.OutputPath == "" {
		return 0, nil
	}
	info, err := os.Stat(a.OutputPath)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if err := os.Remove(a.OutputPath); err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	return info.Size(), nil
}

// SweepScratch removes scratch directories under workDir whose names start
// with prefix and that were last modified more than ScratchMaxAge ago.
// Builds remove their own scratch space, so anything left behind belongs to a
// process that died mid-build.
func (s *Service) SweepScratch(ctx context.Context, workDir, prefix string) (*CleanupResult, error) {
	start := time.Now()
	result := &CleanupResult{}
	cutoff := start.Add(-s.settings.ScratchMaxAge)

	entries, err := os.ReadDir(workDir)
	if os.IsNotExist(err) {
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading work directory: %w", err)
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(workDir, e.Name())
		size := dirSize(path)
		if err := os.RemoveAll(path); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to remove %s: %v", e.Name(), err))
			continue
		}
		result.ItemsRemoved++
		result.SpaceFreed += size
	}

	result.Duration = time.Since(start)
	if result.ItemsRemoved > 0 || len(result.Errors) > 0 {
		s.logger.Info("swept scratch directories",
			"removed", result.ItemsRemoved,
			"space_freed", result.SpaceFreed,
			"errors", len(result.Errors),
		)
	}
	return result, nil
}

func dirSize(path string) int64 {
	var size int64
	filepath.WalkDir(path, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if info, err := d.Info(); err == nil && info.Mode().IsRegular() {
			size += info.Size()
		}
		return nil
	})
	return size
}
