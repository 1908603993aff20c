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

// UserRepository defines the interface for user persistence
type UserRepository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetEmailVerified(ctx context.Context, id string, verified bool) error
}

// TenantRepository defines the interface for tenant lookup
type TenantRepository interface {
	GetByID(ctx context.Context, id string) (*models.Tenant, error)
}

// PasswordResetRepository defines the interface for reset token persistence
type PasswordResetRepository interface {
	Create(ctx context.Context, token *models.PasswordResetToken) (*models.PasswordResetToken, error)
	GetByHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error)
	MarkUsed(ctx context.Context, id string) error
	InvalidateAllForUser(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// AuthService orchestrates the login state machine and account lifecycle:
// registration, password reset, and the MFA step-up handoff.
type AuthService struct {
	userRepo       UserRepository
	tenantRepo     TenantRepository
	resetRepo      PasswordResetRepository
	tokens         *TokenService
	lockout        *LockoutService
	mfa            *MFAService
	trustedDevices *TrustedDeviceService
	verification   *EmailVerificationService
	emailService   EmailService
	timing         *auth.TimingDelay
	resetExpiry    time.Duration
	logger         *slog.Logger
	auditLogger    *pkglogger.AuditLogger
}

// NewAuthService creates a new AuthService
func NewAuthService(
	userRepo UserRepository,
	tenantRepo TenantRepository,
	resetRepo PasswordResetRepository,
	tokens *TokenService,
	lockout *LockoutService,
	mfa *MFAService,
	trustedDevices *TrustedDeviceService,
	verification *EmailVerificationService,
	emailService EmailService,
	timing *auth.TimingDelay,
	resetExpiry time.Duration,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AuthService {
	return &AuthService{
		userRepo:       userRepo,
		tenantRepo:     tenantRepo,
		resetRepo:      resetRepo,
		tokens:         tokens,
		lockout:        lockout,
		mfa:            mfa,
		trustedDevices: trustedDevices,
		verification:   verification,
		emailService:   emailService,
		timing:         timing,
		resetExpiry:    resetExpiry,
		logger:         logger,
		auditLogger:    auditLogger,
	}
}

// Login runs the credential stage of the login state machine:
//
//	CheckLock -> CheckCredential -> CheckMfaRequirement -> Authenticated | AwaitingMfa
//
// The three outcomes map onto LoginResult variants. Failure responses are
// timing-normalized so "no such account" and "wrong password" cannot be
// told apart by clock.
func (s *AuthService) Login(ctx context.Context, email, password string, meta models.DeviceMeta) (*models.LoginResult, error) {
	start := time.Now()

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		s.timing.WaitFrom(start, false)
		return nil, models.ErrInvalidCredentials
	}

	// CheckLock: a locked account rejects every attempt, correct secret or
	// not, with the distinct locked signal.
	lock, err := s.lockout.CheckLocked(ctx, email)
	if err != nil {
		return nil, err
	}
	if lock != nil {
		s.lockout.RecordBlocked(ctx, email, "account_locked", meta)
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			Email:         email,
			IPAddress:     meta.IPAddress,
			FailureReason: "account_locked",
		})
		s.timing.WaitFrom(start, false)
		return &models.LoginResult{Status: models.LoginStatusLocked, LockedUntil: lock}, nil
	}

	// CheckCredential
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return s.failLogin(ctx, start, email, nil, meta)
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		return s.failLogin(ctx, start, email, &user.ID, meta)
	}

	if !user.EmailVerified {
		s.lockout.RecordBlocked(ctx, email, "email_not_verified", meta)
		s.logger.Info("login blocked: email not verified", slog.String("user_id", user.ID))
		s.timing.WaitFrom(start, false)
		return nil, models.ErrEmailNotVerified
	}

	// CheckMfaRequirement: the user's own flag OR the tenant-wide flag.
	mfaRequired, err := s.mfaRequired(ctx, user)
	if err != nil {
		return nil, err
	}

	if mfaRequired {
		trusted, err := s.trustedDevices.IsTrusted(ctx, user.ID, meta)
		if err != nil {
			return nil, err
		}

		if !trusted {
			// AwaitingMfa: no tokens yet; the client must present proof.
			s.lockout.RecordBlocked(ctx, email, "mfa_required", meta)
			s.logger.Info("login awaiting mfa", slog.String("user_id", user.ID))
			return &models.LoginResult{Status: models.LoginStatusRequiresMFA, UserID: user.ID}, nil
		}

		s.logger.Info("mfa skipped for trusted device", slog.String("user_id", user.ID))
	}

	return s.completeLogin(ctx, user, meta)
}

// VerifyMFALogin completes an AwaitingMfa login with a TOTP or backup code.
// An invalid proof terminates with invalid_mfa and does not touch the
// credential lockout counter.
func (s *AuthService) VerifyMFALogin(ctx context.Context, userID, code string, meta models.DeviceMeta) (*models.LoginResult, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for mfa verification", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	email := strings.ToLower(user.Email)

	// The account may have been locked between the credential stage and now.
	lock, err := s.lockout.CheckLocked(ctx, email)
	if err != nil {
		return nil, err
	}
	if lock != nil {
		s.lockout.RecordBlocked(ctx, email, "account_locked", meta)
		return &models.LoginResult{Status: models.LoginStatusLocked, LockedUntil: lock}, nil
	}

	if err := s.mfa.VerifyCode(ctx, userID, code, meta); err != nil {
		if errors.Is(err, models.ErrInvalidMFA) || errors.Is(err, models.ErrMFANotEnabled) {
			s.lockout.RecordBlocked(ctx, email, "invalid_mfa", meta)
		}
		return nil, err
	}

	return s.completeLogin(ctx, user, meta)
}

// Register creates an account and sends the verification email. The account
// cannot log in until the address is verified.
func (s *AuthService) Register(ctx context.Context, email, password, name string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)

	if email == "" {
		return nil, models.ErrBadRequest
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, err
	}

	_, err := s.userRepo.GetByEmail(ctx, email)
	if err == nil {
		s.logger.Info("registration failed: account exists")
		return nil, models.ErrDuplicateAccount
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check existing account", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	now := time.Now()
	user, err := s.userRepo.Create(ctx, &models.User{
		Email:             email,
		PasswordHash:      hash,
		Name:              name,
		PasswordChangedAt: &now,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrDuplicateAccount
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// Verification email delivery is best-effort: the account exists either
	// way and the user can request a resend.
	if err := s.verification.SendVerification(ctx, user); err != nil {
		s.logger.Error("failed to send verification email", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	s.logger.Info("user registered", slog.String("user_id", user.ID))
	s.auditLogger.LogAccountAction("user_registered", user.ID, "", nil)

	return user, nil
}

// ForgotPassword issues a reset token and emails the link. The response is
// identical whether or not the address belongs to an account.
func (s *AuthService) ForgotPassword(ctx context.Context, email string, meta models.DeviceMeta) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("password reset requested for unknown email")
			return nil
		}
		s.logger.Error("failed to get user for password reset", slog.Any("error", err))
		return models.ErrInternalServer
	}

	raw, err := pkgauth.GenerateOpaqueToken()
	if err != nil {
		s.logger.Error("failed to generate reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.resetRepo.InvalidateAllForUser(ctx, user.ID); err != nil {
		s.logger.Error("failed to invalidate old reset tokens", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	token := &models.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: pkgauth.HashToken(raw),
		ExpiresAt: time.Now().Add(s.resetExpiry),
	}
	if _, err := s.resetRepo.Create(ctx, token); err != nil {
		s.logger.Error("failed to store reset token", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.emailService.SendPasswordResetEmail(ctx, user.Email, raw, token.ExpiresAt); err != nil {
		s.logger.Error("failed to send reset email", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("password_reset_requested", user.ID, meta.IPAddress, nil)
	return nil
}

// ResetPassword redeems a reset token and re-baselines the account: the
// password changes, and every refresh token and trusted device is revoked.
func (s *AuthService) ResetPassword(ctx context.Context, rawToken, newPassword string, meta models.DeviceMeta) error {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return models.ErrInvalidResetToken
	}

	token, err := s.resetRepo.GetByHash(ctx, pkgauth.HashToken(rawToken))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrInvalidResetToken
		}
		s.logger.Error("failed to look up reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if !token.IsValid() {
		return models.ErrInvalidResetToken
	}

	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return err
	}

	hash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	// Consume the token first; the used_at gate makes double submission lose.
	if err := s.resetRepo.MarkUsed(ctx, token.ID); err != nil {
		if errors.Is(err, models.ErrInvalidResetToken) {
			return models.ErrInvalidResetToken
		}
		s.logger.Error("failed to consume reset token", slog.String("user_id", token.UserID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.userRepo.UpdatePassword(ctx, token.UserID, hash); err != nil {
		s.logger.Error("failed to update password", slog.String("user_id", token.UserID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	// Full security re-baseline.
	if err := s.tokens.RevokeAllForUser(ctx, token.UserID); err != nil {
		return err
	}
	if err := s.trustedDevices.RevokeAll(ctx, token.UserID); err != nil {
		return err
	}

	s.logger.Info("password reset completed", slog.String("user_id", token.UserID))
	s.auditLogger.LogPasswordChange(token.UserID, meta.IPAddress, true)

	return nil
}

// GetUser returns the user record for an authenticated caller.
func (s *AuthService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return user, nil
}

func (s *AuthService) failLogin(ctx context.Context, start time.Time, email string, userID *string, meta models.DeviceMeta) (*models.LoginResult, error) {
	if _, err := s.lockout.RecordFailure(ctx, email, userID, "invalid_credentials", meta); err != nil {
		return nil, err
	}

	event := pkglogger.AuditEvent{
		EventType:     "login_failed",
		Email:         email,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		FailureReason: "invalid_credentials",
	}
	if userID != nil {
		event.UserID = *userID
	}
	s.auditLogger.LogAuthAttempt(event)

	s.timing.WaitFrom(start, false)
	return nil, models.ErrInvalidCredentials
}

func (s *AuthService) completeLogin(ctx context.Context, user *models.User, meta models.DeviceMeta) (*models.LoginResult, error) {
	if err := s.lockout.RecordSuccess(ctx, user.Email, meta); err != nil {
		return nil, err
	}

	pair, err := s.tokens.IssueSession(ctx, user, meta)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    user.ID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Success:   true,
	})

	return &models.LoginResult{
		Status:       models.LoginStatusAuthenticated,
		UserID:       user.ID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         user,
	}, nil
}

func (s *AuthService) mfaRequired(ctx context.Context, user *models.User) (bool, error) {
	if user.MFAEnabled {
		return true, nil
	}

	if user.TenantID == nil {
		return false, nil
	}

	tenant, err := s.tenantRepo.GetByID(ctx, *user.TenantID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		s.logger.Error("failed to get tenant", slog.String("tenant_id", *user.TenantID), slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	return tenant.MFARequired, nil
}
