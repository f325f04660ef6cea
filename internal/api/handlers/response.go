package handlers

import (
	"encoding/json"
	"net/http"

	apierrors "github.com/narvanalabs/sitekiln/internal/api/errors"
)

// Error codes written by the handlers. The shared ones come from the errors
// package so panics and handler failures use one vocabulary.
const (
	ErrCodeInvalidRequest = apierrors.CodeValidationError
	ErrCodeNotFound       = apierrors.CodeNotFound
	ErrCodeConflict       = apierrors.CodeConflict
	ErrCodeUnauthorized   = apierrors.CodeUnauthorized
	ErrCodeForbidden      = apierrors.CodeForbidden
	ErrCodeGone           = apierrors.CodeGone
	ErrCodeQuotaExceeded  = "quota_exceeded"
	ErrCodeBadGateway     = "bad_gateway"
	ErrCodeInternalError  = apierrors.CodeInternalError
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	apierrors.WriteJSON(w, status, data)
}

// WriteError writes the {code, message} envelope with an explicit status.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, apierrors.New(code, message))
}

// WriteBadRequest writes a 400 Bad Request response.
func WriteBadRequest(w http.ResponseWriter, message string) {
	apierrors.WriteError(w, apierrors.NewValidationError(message))
}

// WriteNotFound writes a 404 Not Found response.
func WriteNotFound(w http.ResponseWriter, message string) {
	apierrors.WriteError(w, apierrors.NewNotFoundError(message))
}

// WriteConflict writes a 409 Conflict response.
func WriteConflict(w http.ResponseWriter, message string) {
	apierrors.WriteError(w, apierrors.NewConflictError(message))
}

// WriteUnauthorized writes a 401 Unauthorized response.
func WriteUnauthorized(w http.ResponseWriter, message string) {
	apierrors.WriteError(w, apierrors.NewUnauthorizedError(message))
}

// WriteForbidden writes a 403 Forbidden response.
func WriteForbidden(w http.ResponseWriter, message string) {
	apierrors.WriteError(w, apierrors.NewForbiddenError(message))
}

// WriteGone writes a 410 Gone response.
func WriteGone(w http.ResponseWriter, message string) {
	apierrors.WriteError(w, apierrors.NewGoneError(message))
}

// WriteBadGateway writes a 502 response for upstream (GitHub) failures.
func WriteBadGateway(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, ErrCodeBadGateway, message)
}

// WriteInternalError writes a 500 Internal Server Error response.
func WriteInternalError(w http.ResponseWriter, message string) {
	apierrors.WriteError(w, apierrors.NewInternalError(message))
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
