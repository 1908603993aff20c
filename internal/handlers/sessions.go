package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tmcfarland/docsmith/internal/auth"
	"github.com/tmcfarland/docsmith/internal/models"
	pkghttp "github.com/tmcfarland/docsmith/pkg/http"
)

// SessionServiceInterface defines the interface for session management
type SessionServiceInterface interface {
	List(ctx context.Context, userID, currentRawToken string) ([]*models.Session, error)
	Revoke(ctx context.Context, userID, sessionID, currentRawToken string) error
	RevokeAllOthers(ctx context.Context, userID, currentRawToken string) (int64, error)
}

// SessionHandler exposes the caller's active sessions. Identity always comes
// from the Bearer token; the refresh cookie, when present, only identifies
// which listed session is the caller's own.
type SessionHandler struct {
	service SessionServiceInterface
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(service SessionServiceInterface) *SessionHandler {
	return &SessionHandler{service: service}
}

// currentToken returns the refresh cookie value if one was sent.
func currentToken(r *http.Request) string {
	raw, err := auth.GetRefreshTokenCookie(r)
	if err != nil {
		return ""
	}
	return raw
}

// List returns the caller's active sessions, the caller's own tagged current.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	sessions, err := h.service.List(r.Context(), claims.UserID, currentToken(r))
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(sessions)
}

// Revoke ends one of the caller's other sessions.
func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		pkghttp.WriteBadRequest(w, "Session id is required")
		return
	}

	err := h.service.Revoke(r.Context(), claims.UserID, sessionID, currentToken(r))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrCannotRevokeCurrent):
			pkghttp.WriteError(w, http.StatusBadRequest, "cannot_revoke_current", "Use logout to end the current session")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "Session not found")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Session revoked."})
}

// RevokeAllOthers ends every session except the caller's own.
func (h *SessionHandler) RevokeAllOthers(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	count, err := h.service.RevokeAllOthers(r.Context(), claims.UserID, currentToken(r))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNoActiveSession):
			pkghttp.WriteError(w, http.StatusBadRequest, "no_active_session", "Current session could not be identified")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"revoked": count})
}
