package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/narvanalabs/sitekiln/internal/webhook"
)

// maxWebhookBody bounds callback bodies.
const maxWebhookBody = 1 << 20

// WebhookHandler receives build callbacks from the remote workflow.
type WebhookHandler struct {
	secret     string
	reconciler *webhook.Reconciler
	logger     *slog.Logger
}

// NewWebhookHandler creates a new webhook handler. An empty secret rejects
// every callback.
func NewWebhookHandler(secret string, reconciler *webhook.Reconciler, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret:     secret,
		reconciler: reconciler,
		logger:     logger,
	}
}

// WebhookResponse acknowledges a callback.
type WebhookResponse struct {
	OK         bool   `json:"ok"`
	Ignored    bool   `json:"ignored,omitempty"`
	ArtifactID string `json:"artifactId,omitempty"`
}

// Build handles POST /webhooks/build. The signature is checked against the
// raw body before it is parsed.
func (h *WebhookHandler) Build(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		WriteBadRequest(w, "could not read body")
		return
	}

	if err := webhook.VerifySignature(h.secret, body, r.Header.Get(webhook.SignatureHeader)); err != nil {
		h.logger.Warn("rejected build callback", "remote_addr", r.RemoteAddr)
		WriteUnauthorized(w, "invalid signature")
		return
	}

	var payload webhook.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		WriteBadRequest(w, "invalid JSON body")
		return
	}

	result, err := h.reconciler.Apply(r.Context(), &payload)
	switch {
	case errors.Is(err, webhook.ErrInvalidPayload):
		WriteBadRequest(w, err.Error())
		return
	case errors.Is(err, webhook.ErrJobNotFound):
		WriteNotFound(w, "job not found")
		return
	case err != nil:
		h.logger.Error("failed to apply build callback", "error", err, "job_id", payload.JobID)
		WriteInternalError(w, "failed to apply callback")
		return
	}

	WriteJSON(w, http.StatusOK, WebhookResponse{
		OK:         true,
		Ignored:    result.Ignored,
		ArtifactID: result.ArtifactID,
	})
}
