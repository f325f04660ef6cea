package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/narvanalabs/sitekiln/internal/api/middleware"
	"github.com/narvanalabs/sitekiln/internal/models"
	"github.com/narvanalabs/sitekiln/internal/store"
	"gorm.io/datatypes"
)

// ProfileHandler serves the caller's build profile.
type ProfileHandler struct {
	profiles store.ProfileStore
	logger   *slog.Logger
}

// NewProfileHandler creates a new profile handler.
func NewProfileHandler(profiles store.ProfileStore, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{
		profiles: profiles,
		logger:   logger,
	}
}

// SaveProfileRequest is the body of PUT /v1/profile.
type SaveProfileRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// Get handles GET /v1/profile.
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		WriteUnauthorized(w, "unauthorized")
		return
	}

	profile, err := h.profiles.Get(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		WriteNotFound(w, "no build profile saved")
		return
	}
	if err != nil {
		h.logger.Error("failed to get build profile", "error", err, "user_id", userID)
		WriteInternalError(w, "failed to get build profile")
		return
	}

	WriteJSON(w, http.StatusOK, profile)
}

// Put handles PUT /v1/profile. The payload must be a JSON object and
// replaces any previous profile.
func (h *ProfileHandler) Put(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		WriteUnauthorized(w, "unauthorized")
		return
	}

	var req SaveProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	payload := bytes.TrimSpace(req.Payload)
	if len(payload) == 0 || payload[0] != '{' {
		WriteBadRequest(w, "payload must be a JSON object")
		return
	}

	profile := &models.BuildProfile{
		UserID:  userID,
		Payload: datatypes.JSON(payload),
	}
	if err := h.profiles.Save(r.Context(), profile); err != nil {
		h.logger.Error("failed to save build profile", "error", err, "user_id", userID)
		WriteInternalError(w, "failed to save build profile")
		return
	}

	WriteJSON(w, http.StatusOK, profile)
}
