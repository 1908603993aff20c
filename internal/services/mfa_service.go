package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/tmcfarland/docsmith/internal/auth"
	"github.com/tmcfarland/docsmith/internal/models"
	pkgauth "github.com/tmcfarland/docsmith/pkg/auth"
	pkglogger "github.com/tmcfarland/docsmith/pkg/logger"
)

// MFARepository defines the interface for TOTP seed and backup code storage
type MFARepository interface {
	UpsertPendingSecret(ctx context.Context, secret *models.MFASecret) error
	GetSecret(ctx context.Context, userID string) (*models.MFASecret, error)
	EnableSecret(ctx context.Context, userID string) error
	DisableMFA(ctx context.Context, userID string) error
	ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string) error
	ListUnusedBackupCodes(ctx context.Context, userID string) ([]*models.MFABackupCode, error)
	MarkBackupCodeUsed(ctx context.Context, id string) error
	CountUnusedBackupCodes(ctx context.Context, userID string) (int, error)
}

// MFAService handles TOTP enrollment, verification, and backup codes.
type MFAService struct {
	mfaRepo     MFARepository
	userRepo    UserRepository
	totp        *auth.TOTPManager
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewMFAService creates a new MFAService
func NewMFAService(mfaRepo MFARepository, userRepo UserRepository, totp *auth.TOTPManager, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *MFAService {
	return &MFAService{
		mfaRepo:     mfaRepo,
		userRepo:    userRepo,
		totp:        totp,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// BeginSetup generates a TOTP seed and the initial batch of backup codes,
// storing the seed in the pending state. Seed, QR code, and backup codes are
// shown exactly once; none of them work until the user proves possession of
// the seed via ConfirmSetup.
func (s *MFAService) BeginSetup(ctx context.Context, userID string) (*models.MFASetupResponse, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for mfa setup", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if user.MFAEnabled {
		return nil, models.ErrConflict
	}

	encrypted, nonce, secret, qrDataURL, err := s.totp.GenerateSecretWithQR(user.Email)
	if err != nil {
		s.logger.Error("failed to generate totp secret", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	err = s.mfaRepo.UpsertPendingSecret(ctx, &models.MFASecret{
		UserID:          userID,
		SecretEncrypted: encrypted,
		SecretNonce:     nonce,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to store pending totp secret", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	codes, hashes, err := s.newBackupCodes()
	if err != nil {
		return nil, err
	}

	if err := s.mfaRepo.ReplaceBackupCodes(ctx, userID, hashes); err != nil {
		s.logger.Error("failed to store backup codes", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("mfa setup started", slog.String("user_id", userID))

	return &models.MFASetupResponse{
		Secret:      secret,
		QRCode:      qrDataURL,
		BackupCodes: codes,
	}, nil
}

// ConfirmSetup verifies a code against the pending seed and activates MFA.
// A failed confirm leaves MFA disabled.
func (s *MFAService) ConfirmSetup(ctx context.Context, userID, code string) error {
	secret, err := s.mfaRepo.GetSecret(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrMFANotEnabled
		}
		s.logger.Error("failed to get totp secret", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if secret.Enabled {
		return models.ErrConflict
	}

	valid, err := s.validateTOTPCode(secret, code)
	if err != nil {
		return err
	}
	if !valid {
		s.auditLogger.LogMFAEvent("mfa_setup_failed", userID, "", false)
		return models.ErrInvalidMFA
	}

	if err := s.mfaRepo.EnableSecret(ctx, userID); err != nil {
		s.logger.Error("failed to enable mfa", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("mfa enabled", slog.String("user_id", userID))
	s.auditLogger.LogMFAEvent("mfa_enabled", userID, "", true)

	return nil
}

// VerifyCode checks a code during login. TOTP is tried first; a code that
// fails TOTP validation is then checked against the unused backup codes, and
// a matching backup code is consumed.
func (s *MFAService) VerifyCode(ctx context.Context, userID, code string, meta models.DeviceMeta) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return models.ErrInvalidMFA
	}

	secret, err := s.mfaRepo.GetSecret(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrMFANotEnabled
		}
		s.logger.Error("failed to get totp secret", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if !secret.Enabled {
		return models.ErrMFANotEnabled
	}

	valid, err := s.validateTOTPCode(secret, code)
	if err != nil {
		return err
	}
	if valid {
		s.auditLogger.LogMFAEvent("mfa_verified", userID, meta.IPAddress, true)
		return nil
	}

	ok, err := s.consumeBackupCode(ctx, userID, code)
	if err != nil {
		return err
	}
	if !ok {
		s.auditLogger.LogMFAEvent("mfa_failed", userID, meta.IPAddress, false)
		return models.ErrInvalidMFA
	}

	remaining, err := s.mfaRepo.CountUnusedBackupCodes(ctx, userID)
	if err == nil && remaining <= 2 {
		s.logger.Warn("backup codes running low",
			slog.String("user_id", userID),
			slog.Int("remaining", remaining))
	}

	s.auditLogger.LogMFAEvent("mfa_backup_code_used", userID, meta.IPAddress, true)
	return nil
}

// Disable turns MFA off. The caller must re-prove the password; possession
// of a valid access token is not enough to weaken the account.
func (s *MFAService) Disable(ctx context.Context, userID, password string) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for mfa disable", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if !user.MFAEnabled {
		return models.ErrMFANotEnabled
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		s.auditLogger.LogMFAEvent("mfa_disable_failed", userID, "", false)
		return models.ErrInvalidCredentials
	}

	if err := s.mfaRepo.DisableMFA(ctx, userID); err != nil {
		s.logger.Error("failed to disable mfa", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("mfa disabled", slog.String("user_id", userID))
	s.auditLogger.LogMFAEvent("mfa_disabled", userID, "", true)

	return nil
}

// RegenerateBackupCodes replaces the user's backup codes with a fresh batch,
// invalidating every old code.
func (s *MFAService) RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for backup code regeneration", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if !user.MFAEnabled {
		return nil, models.ErrMFANotEnabled
	}

	codes, hashes, err := s.newBackupCodes()
	if err != nil {
		return nil, err
	}

	if err := s.mfaRepo.ReplaceBackupCodes(ctx, userID, hashes); err != nil {
		s.logger.Error("failed to replace backup codes", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("backup codes regenerated", slog.String("user_id", userID))
	s.auditLogger.LogMFAEvent("mfa_backup_codes_regenerated", userID, "", true)

	return codes, nil
}

func (s *MFAService) validateTOTPCode(secret *models.MFASecret, code string) (bool, error) {
	seed, err := s.totp.DecryptSecret(secret.SecretEncrypted, secret.SecretNonce)
	if err != nil {
		s.logger.Error("failed to decrypt totp secret", slog.String("user_id", secret.UserID), slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	valid, err := s.totp.ValidateTOTP(seed, code)
	if err != nil {
		s.logger.Error("failed to validate totp code", slog.String("user_id", secret.UserID), slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	return valid, nil
}

func (s *MFAService) consumeBackupCode(ctx context.Context, userID, code string) (bool, error) {
	entries, err := s.mfaRepo.ListUnusedBackupCodes(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list backup codes", slog.String("user_id", userID), slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	for _, entry := range entries {
		if bcrypt.CompareHashAndPassword([]byte(entry.CodeHash), []byte(code)) != nil {
			continue
		}

		err := s.mfaRepo.MarkBackupCodeUsed(ctx, entry.ID)
		if err != nil {
			if errors.Is(err, models.ErrInvalidMFA) {
				// Concurrent use of the same code: someone else consumed it.
				return false, nil
			}
			s.logger.Error("failed to consume backup code", slog.String("user_id", userID), slog.Any("error", err))
			return false, models.ErrInternalServer
		}

		return true, nil
	}

	return false, nil
}

func (s *MFAService) newBackupCodes() ([]string, []string, error) {
	codes, err := s.totp.GenerateBackupCodes(models.BackupCodeCount)
	if err != nil {
		s.logger.Error("failed to generate backup codes", slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}

	hashes := make([]string, len(codes))
	for i, code := range codes {
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			s.logger.Error("failed to hash backup code", slog.Any("error", err))
			return nil, nil, models.ErrInternalServer
		}
		hashes[i] = string(hash)
	}

	return codes, hashes, nil
}
