package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/tmcfarland/docsmith/internal/models"
	pkgauth "github.com/tmcfarland/docsmith/pkg/auth"
	pkglogger "github.com/tmcfarland/docsmith/pkg/logger"
)

// EmailVerificationRepository defines the interface for verification tokens
type EmailVerificationRepository interface {
	Create(ctx context.Context, token *models.EmailVerificationToken) (*models.EmailVerificationToken, error)
	GetByHash(ctx context.Context, tokenHash string) (*models.EmailVerificationToken, error)
	MarkUsed(ctx context.Context, id string) error
	InvalidateAllForUser(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// EmailVerificationService issues and redeems email verification tokens.
type EmailVerificationService struct {
	verificationRepo EmailVerificationRepository
	userRepo         UserRepository
	emailService     EmailService
	tokenExpiry      time.Duration
	logger           *slog.Logger
	auditLogger      *pkglogger.AuditLogger
}

// NewEmailVerificationService creates a new EmailVerificationService
func NewEmailVerificationService(verificationRepo EmailVerificationRepository, userRepo UserRepository, emailService EmailService, tokenExpiry time.Duration, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *EmailVerificationService {
	return &EmailVerificationService{
		verificationRepo: verificationRepo,
		userRepo:         userRepo,
		emailService:     emailService,
		tokenExpiry:      tokenExpiry,
		logger:           logger,
		auditLogger:      auditLogger,
	}
}

// SendVerification issues a fresh verification token for the user and emails
// the link. Older outstanding tokens are invalidated.
func (s *EmailVerificationService) SendVerification(ctx context.Context, user *models.User) error {
	raw, err := pkgauth.GenerateOpaqueToken()
	if err != nil {
		s.logger.Error("failed to generate verification token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.verificationRepo.InvalidateAllForUser(ctx, user.ID); err != nil {
		s.logger.Error("failed to invalidate old verification tokens", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	token := &models.EmailVerificationToken{
		UserID:    user.ID,
		TokenHash: pkgauth.HashToken(raw),
		Email:     user.Email,
		ExpiresAt: time.Now().Add(s.tokenExpiry),
	}

	if _, err := s.verificationRepo.Create(ctx, token); err != nil {
		s.logger.Error("failed to store verification token", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.emailService.SendVerificationEmail(ctx, user.Email, raw, token.ExpiresAt); err != nil {
		s.logger.Error("failed to send verification email", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	return nil
}

// ResendVerification re-issues the verification email for an address. The
// response is identical whether or not the address is registered or already
// verified, so it cannot be used to probe for accounts.
func (s *EmailVerificationService) ResendVerification(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("verification resend for unknown email")
			return nil
		}
		s.logger.Error("failed to get user for verification resend", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if user.EmailVerified {
		return nil
	}

	return s.SendVerification(ctx, user)
}

// VerifyEmail redeems a verification token and marks the address verified.
func (s *EmailVerificationService) VerifyEmail(ctx context.Context, rawToken string) error {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return models.ErrBadRequest
	}

	token, err := s.verificationRepo.GetByHash(ctx, pkgauth.HashToken(rawToken))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrBadRequest
		}
		s.logger.Error("failed to look up verification token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if !token.IsValid() {
		return models.ErrBadRequest
	}

	if err := s.verificationRepo.MarkUsed(ctx, token.ID); err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			return models.ErrBadRequest
		}
		s.logger.Error("failed to consume verification token", slog.String("user_id", token.UserID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.userRepo.SetEmailVerified(ctx, token.UserID, true); err != nil {
		s.logger.Error("failed to mark email verified", slog.String("user_id", token.UserID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("email verified", slog.String("user_id", token.UserID))
	s.auditLogger.LogAccountAction("email_verified", token.UserID, "", nil)

	return nil
}
