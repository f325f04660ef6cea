package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/narvanalabs/sitekiln/internal/api/middleware"
	"github.com/narvanalabs/sitekiln/internal/auth"
	"github.com/narvanalabs/sitekiln/internal/models"
	"github.com/narvanalabs/sitekiln/internal/store"
)

// ArtifactHandler lists and serves build artifacts.
type ArtifactHandler struct {
	artifacts store.ArtifactStore
	logger    *slog.Logger
}

// NewArtifactHandler creates a new artifact handler.
func NewArtifactHandler(artifacts store.ArtifactStore, logger *slog.Logger) *ArtifactHandler {
	return &ArtifactHandler{
		artifacts: artifacts,
		logger:    logger,
	}
}

// List handles GET /v1/artifacts.
func (h *ArtifactHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	artifacts, err := h.artifacts.ListByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list artifacts", "error", err, "user_id", userID)
		WriteInternalError(w, "failed to list artifacts")
		return
	}
	if artifacts == nil {
		artifacts = []*models.BuildArtifact{}
	}
	WriteJSON(w, http.StatusOK, artifacts)
}

// Download handles GET /v1/artifacts/{artifactID}/download. Remote
// artifacts redirect to their URL. Local artifacts whose file was removed
// answer 410.
func (h *ArtifactHandler) Download(w http.ResponseWriter, r *http.Request) {
	artifactID := chi.URLParam(r, "artifactID")

	artifact, err := h.artifacts.Get(r.Context(), artifactID)
	if errors.Is(err, store.ErrNotFound) {
		WriteNotFound(w, "artifact not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get artifact", "error", err, "artifact_id", artifactID)
		WriteInternalError(w, "failed to get artifact")
		return
	}
	if !auth.CanAccessOwned(middleware.GetClaims(r.Context()), artifact.UserID) {
		WriteForbidden(w, "access denied")
		return
	}

	if artifact.IsRemote() {
		http.Redirect(w, r, artifact.OutputPath, http.StatusFound)
		return
	}

	f, err := os.Open(artifact.OutputPath)
	if os.IsNotExist(err) {
		WriteGone(w, "file gone")
		return
	}
	if err != nil {
		h.logger.Error("failed to open artifact", "error", err, "artifact_id", artifactID)
		WriteInternalError(w, "failed to read artifact")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.logger.Error("failed to stat artifact", "error", err, "artifact_id", artifactID)
		WriteInternalError(w, "failed to read artifact")
		return
	}

	name := artifact.Filename
	if name == "" {
		name = filepath.Base(artifact.OutputPath)
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}
