package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{CodeValidationError, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeForbidden, http.StatusForbidden},
		{CodeConflict, http.StatusConflict},
		{CodeGone, http.StatusGone},
		{CodeTooManyRequests, http.StatusTooManyRequests},
		{CodeInternalError, http.StatusInternalServerError},
		{"something_else", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.code, "x").HTTPStatusCode())
		})
	}
}

func TestWithRequestIDCopies(t *testing.T) {
	orig := NewNotFoundError("missing")
	withID := orig.WithRequestID("req-1")

	assert.Empty(t, orig.RequestID)
	assert.Equal(t, "req-1", withID.RequestID)
	assert.Equal(t, orig.Code, withID.Code)
	assert.Equal(t, orig.Message, withID.Message)
}

func TestWriteErrorUsesConstructorStatus(t *testing.T) {
	tests := []struct {
		err  *APIError
		want int
	}{
		{NewValidationError("bad"), http.StatusBadRequest},
		{NewNotFoundError("missing"), http.StatusNotFound},
		{NewUnauthorizedError("who"), http.StatusUnauthorized},
		{NewForbiddenError("no"), http.StatusForbidden},
		{NewConflictError("taken"), http.StatusConflict},
		{NewGoneError("gone"), http.StatusGone},
		{NewInternalError("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)

			require.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			var body APIError
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.err.Code, body.Code)
			assert.Equal(t, tt.err.Message, body.Message)
		})
	}
}

func TestWriteRateLimited(t *testing.T) {
	handler := middleware.RequestID(http.HandlerFunc(WriteRateLimited))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var body APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeTooManyRequests, body.Code)
	assert.Equal(t, "rate limit exceeded", body.Message)
	assert.NotEmpty(t, body.RequestID)
}

func TestErrorLogEntry(t *testing.T) {
	e := NewErrorLogEntry("corr", CodeInternalError, "panic")
	assert.NotEmpty(t, e.StackTrace)
	attrs := e.ToSlogAttrs()
	assert.Len(t, attrs, 8)
	assert.Equal(t, "corr", attrs[1])
}
