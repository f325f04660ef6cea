package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/narvanalabs/sitekiln/internal/api/middleware"
	"github.com/narvanalabs/sitekiln/internal/quota"
	"github.com/narvanalabs/sitekiln/internal/store"
)

// QuotaHandler reports the caller's daily build allowance.
type QuotaHandler struct {
	users  store.UserStore
	quota  *quota.Service
	logger *slog.Logger
}

// NewQuotaHandler creates a new quota handler.
func NewQuotaHandler(users store.UserStore, q *quota.Service, logger *slog.Logger) *QuotaHandler {
	return &QuotaHandler{
		users:  users,
		quota:  q,
		logger: logger,
	}
}

// Get handles GET /v1/quota.
func (h *QuotaHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	user, err := h.users.GetByID(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		WriteUnauthorized(w, "unknown user")
		return
	}
	if err != nil {
		h.logger.Error("failed to load user", "error", err, "user_id", userID)
		WriteInternalError(w, "failed to read quota")
		return
	}

	WriteJSON(w, http.StatusOK, h.quota.Peek(user))
}
