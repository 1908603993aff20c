package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/tmcfarland/docsmith/internal/models"
	pkgauth "github.com/tmcfarland/docsmith/pkg/auth"
	pkglogger "github.com/tmcfarland/docsmith/pkg/logger"
)

// SessionService exposes a user's active sessions (refresh tokens) for
// inspection and selective revocation.
type SessionService struct {
	refreshRepo RefreshTokenRepository
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewSessionService creates a new SessionService
func NewSessionService(refreshRepo RefreshTokenRepository, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *SessionService {
	return &SessionService{
		refreshRepo: refreshRepo,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// List returns the user's active sessions, newest first. When the caller's
// own refresh token is supplied its session is tagged Current.
func (s *SessionService) List(ctx context.Context, userID, currentRawToken string) ([]*models.Session, error) {
	tokens, err := s.refreshRepo.ListActiveForUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list sessions", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	currentHash := ""
	if raw := strings.TrimSpace(currentRawToken); raw != "" {
		currentHash = pkgauth.HashToken(raw)
	}

	sessions := make([]*models.Session, 0, len(tokens))
	for _, token := range tokens {
		sessions = append(sessions, &models.Session{
			ID:         token.ID,
			DeviceName: token.DeviceName,
			IPAddress:  token.IPAddress,
			IssuedAt:   token.IssuedAt,
			LastUsedAt: token.LastUsedAt,
			Current:    currentHash != "" && token.TokenHash == currentHash,
		})
	}

	return sessions, nil
}

// Revoke ends one session. The current session cannot be revoked this way;
// that is what logout is for.
func (s *SessionService) Revoke(ctx context.Context, userID, sessionID, currentRawToken string) error {
	if raw := strings.TrimSpace(currentRawToken); raw != "" {
		current, err := s.refreshRepo.GetByHash(ctx, pkgauth.HashToken(raw))
		if err == nil && current.ID == sessionID {
			return models.ErrCannotRevokeCurrent
		}
	}

	err := s.refreshRepo.Revoke(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to revoke session", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("session revoked", slog.String("user_id", userID), slog.String("session_id", sessionID))
	s.auditLogger.LogAccountAction("session_revoked", userID, "", map[string]string{
		"session_id": sessionID,
	})

	return nil
}

// RevokeAllOthers ends every session except the caller's own. The caller
// must present their refresh token; without one there is no session to keep.
// Returns the number of sessions revoked.
func (s *SessionService) RevokeAllOthers(ctx context.Context, userID, currentRawToken string) (int64, error) {
	raw := strings.TrimSpace(currentRawToken)
	if raw == "" {
		return 0, models.ErrNoActiveSession
	}

	current, err := s.refreshRepo.GetByHash(ctx, pkgauth.HashToken(raw))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return 0, models.ErrNoActiveSession
		}
		s.logger.Error("failed to resolve current session", slog.String("user_id", userID), slog.Any("error", err))
		return 0, models.ErrInternalServer
	}

	if current.UserID != userID || !current.IsActive() {
		return 0, models.ErrNoActiveSession
	}

	count, err := s.refreshRepo.RevokeAllForUserExcept(ctx, userID, current.ID)
	if err != nil {
		s.logger.Error("failed to revoke other sessions", slog.String("user_id", userID), slog.Any("error", err))
		return 0, models.ErrInternalServer
	}

	s.logger.Info("revoked other sessions", slog.String("user_id", userID), slog.Int64("count", count))
	s.auditLogger.LogAccountAction("sessions_revoked_all_others", userID, "", nil)

	return count, nil
}
