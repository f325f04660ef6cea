// Package handlers provides HTTP handlers for the API.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/narvanalabs/sitekiln/internal/auth"
	"github.com/narvanalabs/sitekiln/internal/store"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	users       store.UserStore
	authService *auth.Service
	logger      *slog.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(users store.UserStore, authSvc *auth.Service, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		users:       users,
		authService: authSvc,
		logger:      logger,
	}
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the session token.
type LoginResponse struct {
	Token   string `json:"token"`
	UserID  string `json:"userId"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"isAdmin"`
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		WriteBadRequest(w, "email and password required")
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if errors.Is(err, store.ErrInvalidCredentials) {
		WriteUnauthorized(w, "invalid credentials")
		return
	}
	if err != nil {
		h.logger.Error("authentication failed", "error", err)
		WriteInternalError(w, "login failed")
		return
	}

	token, err := h.authService.GenerateToken(user)
	if err != nil {
		h.logger.Error("failed to generate token", "error", err, "user_id", user.ID)
		WriteInternalError(w, "login failed")
		return
	}

	h.logger.Info("user logged in", "user_id", user.ID)
	WriteJSON(w, http.StatusOK, LoginResponse{
		Token:   token,
		UserID:  user.ID,
		Email:   user.Email,
		IsAdmin: user.IsAdmin,
	})
}
