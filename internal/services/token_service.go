package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/tmcfarland/docsmith/internal/auth"
	"github.com/tmcfarland/docsmith/internal/models"
	pkgauth "github.com/tmcfarland/docsmith/pkg/auth"
	pkglogger "github.com/tmcfarland/docsmith/pkg/logger"
)

// RefreshTokenRepository defines the interface for refresh token persistence
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error)
	GetByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	GetByID(ctx context.Context, id string) (*models.RefreshToken, error)
	Rotate(ctx context.Context, currentID string, successor *models.RefreshToken) (bool, error)
	FlagTheft(ctx context.Context, tokenID, userID string) error
	Revoke(ctx context.Context, id, userID string) error
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	RevokeAllForUserExcept(ctx context.Context, userID, keepID string) (int64, error)
	ListActiveForUser(ctx context.Context, userID string) ([]*models.RefreshToken, error)
	DeleteExpired(ctx context.Context, retention time.Duration) (int64, error)
}

// TokenService issues access/refresh token pairs and owns the refresh
// rotation and reuse-detection logic.
type TokenService struct {
	refreshRepo   RefreshTokenRepository
	userRepo      UserRepository
	tm            *auth.TokenManager
	refreshExpiry time.Duration
	logger        *slog.Logger
	auditLogger   *pkglogger.AuditLogger
}

// NewTokenService creates a new TokenService
func NewTokenService(refreshRepo RefreshTokenRepository, userRepo UserRepository, tm *auth.TokenManager, refreshExpiry time.Duration, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *TokenService {
	return &TokenService{
		refreshRepo:   refreshRepo,
		userRepo:      userRepo,
		tm:            tm,
		refreshExpiry: refreshExpiry,
		logger:        logger,
		auditLogger:   auditLogger,
	}
}

// TokenPair carries a freshly issued access token and the raw refresh token.
// The raw refresh value exists only here; storage holds its hash.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// IssueSession creates a new session for a fully authenticated user: an
// opaque refresh token persisted by hash, plus a signed access token.
func (s *TokenService) IssueSession(ctx context.Context, user *models.User, meta models.DeviceMeta) (*TokenPair, error) {
	raw, err := pkgauth.GenerateOpaqueToken()
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	record := &models.RefreshToken{
		UserID:     user.ID,
		TokenHash:  pkgauth.HashToken(raw),
		DeviceName: meta.DeviceName,
		IPAddress:  meta.IPAddress,
		ExpiresAt:  time.Now().Add(s.refreshExpiry),
	}

	if _, err := s.refreshRepo.Create(ctx, record); err != nil {
		s.logger.Error("failed to store refresh token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	accessToken, err := s.tm.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: raw}, nil
}

// Refresh exchanges a refresh token for a new pair, rotating the token.
//
// Presenting a token that was already rotated is treated as theft: every
// session of the owning user is revoked and the caller gets
// ErrTokenReuseDetected. A hash with no record at all yields a plain
// ErrUnauthorized, since there is no user to attribute it to.
func (s *TokenService) Refresh(ctx context.Context, rawToken string, meta models.DeviceMeta) (*TokenPair, *models.User, error) {
	if rawToken = strings.TrimSpace(rawToken); rawToken == "" {
		return nil, nil, models.ErrUnauthorized
	}

	record, err := s.refreshRepo.GetByHash(ctx, pkgauth.HashToken(rawToken))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("refresh failed: unknown token")
			return nil, nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to look up refresh token", slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}

	if record.Revoked {
		if err := s.refreshRepo.FlagTheft(ctx, record.ID, record.UserID); err != nil {
			s.logger.Error("failed to contain token reuse", slog.String("user_id", record.UserID), slog.Any("error", err))
			return nil, nil, models.ErrInternalServer
		}

		s.logger.Warn("refresh token reuse detected, all sessions revoked",
			slog.String("user_id", record.UserID),
			slog.String("token_id", record.ID))
		s.auditLogger.LogTokenReuse(record.UserID, record.ID, meta.IPAddress)

		return nil, nil, models.ErrTokenReuseDetected
	}

	if record.IsExpired() {
		s.logger.Info("refresh failed: token expired", slog.String("user_id", record.UserID))
		return nil, nil, models.ErrUnauthorized
	}

	user, err := s.userRepo.GetByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for refresh", slog.String("user_id", record.UserID), slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}

	raw, err := pkgauth.GenerateOpaqueToken()
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}

	successor := &models.RefreshToken{
		UserID:     record.UserID,
		TokenHash:  pkgauth.HashToken(raw),
		DeviceName: record.DeviceName,
		IPAddress:  meta.IPAddress,
		ExpiresAt:  time.Now().Add(s.refreshExpiry),
	}

	rotated, err := s.refreshRepo.Rotate(ctx, record.ID, successor)
	if err != nil {
		s.logger.Error("failed to rotate refresh token", slog.String("user_id", record.UserID), slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}
	if !rotated {
		// Concurrent exchange of the same token: another request won the
		// rotation, so this presentation is a second use of a consumed token.
		// Same containment as a replay.
		if err := s.refreshRepo.FlagTheft(ctx, record.ID, record.UserID); err != nil {
			s.logger.Error("failed to contain token reuse", slog.String("user_id", record.UserID), slog.Any("error", err))
			return nil, nil, models.ErrInternalServer
		}

		s.logger.Warn("refresh token reused in rotation race, all sessions revoked",
			slog.String("user_id", record.UserID),
			slog.String("token_id", record.ID))
		s.auditLogger.LogTokenReuse(record.UserID, record.ID, meta.IPAddress)

		return nil, nil, models.ErrTokenReuseDetected
	}

	accessToken, err := s.tm.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}

	s.logger.Info("refresh token rotated", slog.String("user_id", user.ID))

	return &TokenPair{AccessToken: accessToken, RefreshToken: raw}, user, nil
}

// Logout revokes the session identified by the presented refresh token.
// Unknown or already revoked tokens are a no-op; logout is idempotent.
func (s *TokenService) Logout(ctx context.Context, rawToken string) error {
	if rawToken = strings.TrimSpace(rawToken); rawToken == "" {
		return nil
	}

	record, err := s.refreshRepo.GetByHash(ctx, pkgauth.HashToken(rawToken))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		s.logger.Error("failed to look up refresh token for logout", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if record.Revoked {
		return nil
	}

	if err := s.refreshRepo.Revoke(ctx, record.ID, record.UserID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		s.logger.Error("failed to revoke refresh token", slog.String("user_id", record.UserID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("user logged out", slog.String("user_id", record.UserID))
	return nil
}

// RevokeAllForUser collapses every session a user has.
func (s *TokenService) RevokeAllForUser(ctx context.Context, userID string) error {
	count, err := s.refreshRepo.RevokeAllForUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to revoke all sessions", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("revoked all sessions", slog.String("user_id", userID), slog.Int64("count", count))
	return nil
}
