package http

import (
	"encoding/json"
	"net/http"
	"time"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`             // Machine-readable error code
	Message string `json:"message"`           // Human-readable message
	Details string `json:"details,omitempty"` // Optional additional context
}

// LockedResponse is the body of a 423 Locked response. Lockout is the one
// credential failure deliberately distinguished from invalid_credentials:
// the client needs to know to wait rather than re-prompt.
type LockedResponse struct {
	Error            string    `json:"error"`
	LockedUntil      time.Time `json:"locked_until"`
	RetryAfterSecond int64     `json:"retry_after_seconds"`
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	WriteErrorWithDetails(w, statusCode, errorCode, message, "")
}

// WriteErrorWithDetails writes a JSON error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, errorCode, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error:   errorCode,
		Message: message,
		Details: details,
	}

	// Log encoding errors but don't expose them to client
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteLocked writes a 423 Locked response with the remaining lock duration
func WriteLocked(w http.ResponseWriter, lockedUntil time.Time) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusLocked)

	remaining := time.Until(lockedUntil)
	if remaining < 0 {
		remaining = 0
	}

	_ = json.NewEncoder(w).Encode(LockedResponse{
		Error:            "locked",
		LockedUntil:      lockedUntil,
		RetryAfterSecond: int64(remaining.Seconds()),
	})
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, "conflict", message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}
