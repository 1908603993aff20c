package services

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/tmcfarland/docsmith/internal/auth"
	"github.com/tmcfarland/docsmith/internal/models"
	pkglogger "github.com/tmcfarland/docsmith/pkg/logger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAuditLogger() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(testLogger())
}

// Zero delays so failure-path tests do not sleep.
func testTimingDelay() *auth.TimingDelay {
	return auth.NewTimingDelay(auth.TimingConfig{})
}

func testTokenManager() *auth.TokenManager {
	return auth.NewTokenManager("test-secret-for-unit-tests-only", 15*time.Minute)
}

func testTOTPManager() *auth.TOTPManager {
	key := make([]byte, 32)
	copy(key, "0123456789abcdef0123456789abcdef")
	tm, err := auth.NewTOTPManager(key, "Docsmith")
	if err != nil {
		panic(err)
	}
	return tm
}

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	CreateFunc           func(ctx context.Context, user *models.User) (*models.User, error)
	GetByIDFunc          func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc       func(ctx context.Context, email string) (*models.User, error)
	UpdatePasswordFunc   func(ctx context.Context, id, passwordHash string) error
	SetEmailVerifiedFunc func(ctx context.Context, id string, verified bool) error
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	user.ID = "user_123"
	return user, nil
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	return nil
}

func (m *MockUserRepository) SetEmailVerified(ctx context.Context, id string, verified bool) error {
	if m.SetEmailVerifiedFunc != nil {
		return m.SetEmailVerifiedFunc(ctx, id, verified)
	}
	return nil
}

// MockTenantRepository implements TenantRepository for testing
type MockTenantRepository struct {
	GetByIDFunc func(ctx context.Context, id string) (*models.Tenant, error)
}

func (m *MockTenantRepository) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

// MockRefreshTokenRepository implements RefreshTokenRepository for testing
type MockRefreshTokenRepository struct {
	CreateFunc                 func(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error)
	GetByHashFunc              func(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	GetByIDFunc                func(ctx context.Context, id string) (*models.RefreshToken, error)
	RotateFunc                 func(ctx context.Context, currentID string, successor *models.RefreshToken) (bool, error)
	FlagTheftFunc              func(ctx context.Context, tokenID, userID string) error
	RevokeFunc                 func(ctx context.Context, id, userID string) error
	RevokeAllForUserFunc       func(ctx context.Context, userID string) (int64, error)
	RevokeAllForUserExceptFunc func(ctx context.Context, userID, keepID string) (int64, error)
	ListActiveForUserFunc      func(ctx context.Context, userID string) ([]*models.RefreshToken, error)
	DeleteExpiredFunc          func(ctx context.Context, retention time.Duration) (int64, error)
}

func (m *MockRefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, token)
	}
	token.ID = "rt_123"
	return token, nil
}

func (m *MockRefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	if m.GetByHashFunc != nil {
		return m.GetByHashFunc(ctx, tokenHash)
	}
	return nil, models.ErrNotFound
}

func (m *MockRefreshTokenRepository) GetByID(ctx context.Context, id string) (*models.RefreshToken, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockRefreshTokenRepository) Rotate(ctx context.Context, currentID string, successor *models.RefreshToken) (bool, error) {
	if m.RotateFunc != nil {
		return m.RotateFunc(ctx, currentID, successor)
	}
	return true, nil
}

func (m *MockRefreshTokenRepository) FlagTheft(ctx context.Context, tokenID, userID string) error {
	if m.FlagTheftFunc != nil {
		return m.FlagTheftFunc(ctx, tokenID, userID)
	}
	return nil
}

func (m *MockRefreshTokenRepository) Revoke(ctx context.Context, id, userID string) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, id, userID)
	}
	return nil
}

func (m *MockRefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	if m.RevokeAllForUserFunc != nil {
		return m.RevokeAllForUserFunc(ctx, userID)
	}
	return 0, nil
}

func (m *MockRefreshTokenRepository) RevokeAllForUserExcept(ctx context.Context, userID, keepID string) (int64, error) {
	if m.RevokeAllForUserExceptFunc != nil {
		return m.RevokeAllForUserExceptFunc(ctx, userID, keepID)
	}
	return 0, nil
}

func (m *MockRefreshTokenRepository) ListActiveForUser(ctx context.Context, userID string) ([]*models.RefreshToken, error) {
	if m.ListActiveForUserFunc != nil {
		return m.ListActiveForUserFunc(ctx, userID)
	}
	return []*models.RefreshToken{}, nil
}

func (m *MockRefreshTokenRepository) DeleteExpired(ctx context.Context, retention time.Duration) (int64, error) {
	if m.DeleteExpiredFunc != nil {
		return m.DeleteExpiredFunc(ctx, retention)
	}
	return 0, nil
}

// MockAccountLockRepository implements AccountLockRepository for testing
type MockAccountLockRepository struct {
	GetFunc           func(ctx context.Context, email string) (*models.AccountLock, error)
	RecordFailureFunc func(ctx context.Context, email string, userID *string) (int, error)
	LockFunc          func(ctx context.Context, email string, until time.Time) error
	ResetFunc         func(ctx context.Context, email string) error
	DeleteStaleFunc   func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *MockAccountLockRepository) Get(ctx context.Context, email string) (*models.AccountLock, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, email)
	}
	return nil, nil
}

func (m *MockAccountLockRepository) RecordFailure(ctx context.Context, email string, userID *string) (int, error) {
	if m.RecordFailureFunc != nil {
		return m.RecordFailureFunc(ctx, email, userID)
	}
	return 1, nil
}

func (m *MockAccountLockRepository) Lock(ctx context.Context, email string, until time.Time) error {
	if m.LockFunc != nil {
		return m.LockFunc(ctx, email, until)
	}
	return nil
}

func (m *MockAccountLockRepository) Reset(ctx context.Context, email string) error {
	if m.ResetFunc != nil {
		return m.ResetFunc(ctx, email)
	}
	return nil
}

func (m *MockAccountLockRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.DeleteStaleFunc != nil {
		return m.DeleteStaleFunc(ctx, cutoff)
	}
	return 0, nil
}

// MockLoginAttemptRepository implements LoginAttemptRepository for testing
type MockLoginAttemptRepository struct {
	RecordAttemptFunc   func(ctx context.Context, attempt *models.LoginAttempt) error
	DeleteOlderThanFunc func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *MockLoginAttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	if m.RecordAttemptFunc != nil {
		return m.RecordAttemptFunc(ctx, attempt)
	}
	return nil
}

func (m *MockLoginAttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.DeleteOlderThanFunc != nil {
		return m.DeleteOlderThanFunc(ctx, cutoff)
	}
	return 0, nil
}

// MockMFARepository implements MFARepository for testing
type MockMFARepository struct {
	UpsertPendingSecretFunc    func(ctx context.Context, secret *models.MFASecret) error
	GetSecretFunc              func(ctx context.Context, userID string) (*models.MFASecret, error)
	EnableSecretFunc           func(ctx context.Context, userID string) error
	DisableMFAFunc             func(ctx context.Context, userID string) error
	ReplaceBackupCodesFunc     func(ctx context.Context, userID string, codeHashes []string) error
	ListUnusedBackupCodesFunc  func(ctx context.Context, userID string) ([]*models.MFABackupCode, error)
	MarkBackupCodeUsedFunc     func(ctx context.Context, id string) error
	CountUnusedBackupCodesFunc func(ctx context.Context, userID string) (int, error)
}

func (m *MockMFARepository) UpsertPendingSecret(ctx context.Context, secret *models.MFASecret) error {
	if m.UpsertPendingSecretFunc != nil {
		return m.UpsertPendingSecretFunc(ctx, secret)
	}
	return nil
}

func (m *MockMFARepository) GetSecret(ctx context.Context, userID string) (*models.MFASecret, error) {
	if m.GetSecretFunc != nil {
		return m.GetSecretFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockMFARepository) EnableSecret(ctx context.Context, userID string) error {
	if m.EnableSecretFunc != nil {
		return m.EnableSecretFunc(ctx, userID)
	}
	return nil
}

func (m *MockMFARepository) DisableMFA(ctx context.Context, userID string) error {
	if m.DisableMFAFunc != nil {
		return m.DisableMFAFunc(ctx, userID)
	}
	return nil
}

func (m *MockMFARepository) ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string) error {
	if m.ReplaceBackupCodesFunc != nil {
		return m.ReplaceBackupCodesFunc(ctx, userID, codeHashes)
	}
	return nil
}

func (m *MockMFARepository) ListUnusedBackupCodes(ctx context.Context, userID string) ([]*models.MFABackupCode, error) {
	if m.ListUnusedBackupCodesFunc != nil {
		return m.ListUnusedBackupCodesFunc(ctx, userID)
	}
	return []*models.MFABackupCode{}, nil
}

func (m *MockMFARepository) MarkBackupCodeUsed(ctx context.Context, id string) error {
	if m.MarkBackupCodeUsedFunc != nil {
		return m.MarkBackupCodeUsedFunc(ctx, id)
	}
	return nil
}

func (m *MockMFARepository) CountUnusedBackupCodes(ctx context.Context, userID string) (int, error) {
	if m.CountUnusedBackupCodesFunc != nil {
		return m.CountUnusedBackupCodesFunc(ctx, userID)
	}
	return models.BackupCodeCount, nil
}

// MockTrustedDeviceRepository implements TrustedDeviceRepository for testing
type MockTrustedDeviceRepository struct {
	UpsertFunc           func(ctx context.Context, device *models.TrustedDevice) (*models.TrustedDevice, error)
	GetActiveFunc        func(ctx context.Context, userID, fingerprint string) (*models.TrustedDevice, error)
	TouchLastUsedFunc    func(ctx context.Context, id string) error
	ListForUserFunc      func(ctx context.Context, userID string) ([]*models.TrustedDevice, error)
	RevokeFunc           func(ctx context.Context, id, userID string) error
	RevokeAllForUserFunc func(ctx context.Context, userID string) (int64, error)
	DeleteExpiredFunc    func(ctx context.Context) (int64, error)
}

func (m *MockTrustedDeviceRepository) Upsert(ctx context.Context, device *models.TrustedDevice) (*models.TrustedDevice, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, device)
	}
	device.ID = "td_123"
	return device, nil
}

func (m *MockTrustedDeviceRepository) GetActive(ctx context.Context, userID, fingerprint string) (*models.TrustedDevice, error) {
	if m.GetActiveFunc != nil {
		return m.GetActiveFunc(ctx, userID, fingerprint)
	}
	return nil, models.ErrNotFound
}

func (m *MockTrustedDeviceRepository) TouchLastUsed(ctx context.Context, id string) error {
	if m.TouchLastUsedFunc != nil {
		return m.TouchLastUsedFunc(ctx, id)
	}
	return nil
}

func (m *MockTrustedDeviceRepository) ListForUser(ctx context.Context, userID string) ([]*models.TrustedDevice, error) {
	if m.ListForUserFunc != nil {
		return m.ListForUserFunc(ctx, userID)
	}
	return []*models.TrustedDevice{}, nil
}

func (m *MockTrustedDeviceRepository) Revoke(ctx context.Context, id, userID string) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, id, userID)
	}
	return nil
}

func (m *MockTrustedDeviceRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	if m.RevokeAllForUserFunc != nil {
		return m.RevokeAllForUserFunc(ctx, userID)
	}
	return 0, nil
}

func (m *MockTrustedDeviceRepository) DeleteExpired(ctx context.Context) (int64, error) {
	if m.DeleteExpiredFunc != nil {
		return m.DeleteExpiredFunc(ctx)
	}
	return 0, nil
}

// MockPasswordResetRepository implements PasswordResetRepository for testing
type MockPasswordResetRepository struct {
	CreateFunc               func(ctx context.Context, token *models.PasswordResetToken) (*models.PasswordResetToken, error)
	GetByHashFunc            func(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error)
	MarkUsedFunc             func(ctx context.Context, id string) error
	InvalidateAllForUserFunc func(ctx context.Context, userID string) error
	DeleteExpiredFunc        func(ctx context.Context) (int64, error)
}

func (m *MockPasswordResetRepository) Create(ctx context.Context, token *models.PasswordResetToken) (*models.PasswordResetToken, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, token)
	}
	token.ID = "prt_123"
	return token, nil
}

func (m *MockPasswordResetRepository) GetByHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
	if m.GetByHashFunc != nil {
		return m.GetByHashFunc(ctx, tokenHash)
	}
	return nil, models.ErrNotFound
}

func (m *MockPasswordResetRepository) MarkUsed(ctx context.Context, id string) error {
	if m.MarkUsedFunc != nil {
		return m.MarkUsedFunc(ctx, id)
	}
	return nil
}

func (m *MockPasswordResetRepository) InvalidateAllForUser(ctx context.Context, userID string) error {
	if m.InvalidateAllForUserFunc != nil {
		return m.InvalidateAllForUserFunc(ctx, userID)
	}
	return nil
}

func (m *MockPasswordResetRepository) DeleteExpired(ctx context.Context) (int64, error) {
	if m.DeleteExpiredFunc != nil {
		return m.DeleteExpiredFunc(ctx)
	}
	return 0, nil
}

// MockEmailVerificationRepository implements EmailVerificationRepository for testing
type MockEmailVerificationRepository struct {
	CreateFunc               func(ctx context.Context, token *models.EmailVerificationToken) (*models.EmailVerificationToken, error)
	GetByHashFunc            func(ctx context.Context, tokenHash string) (*models.EmailVerificationToken, error)
	MarkUsedFunc             func(ctx context.Context, id string) error
	InvalidateAllForUserFunc func(ctx context.Context, userID string) error
	DeleteExpiredFunc        func(ctx context.Context) (int64, error)
}

func (m *MockEmailVerificationRepository) Create(ctx context.Context, token *models.EmailVerificationToken) (*models.EmailVerificationToken, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, token)
	}
	token.ID = "evt_123"
	return token, nil
}

func (m *MockEmailVerificationRepository) GetByHash(ctx context.Context, tokenHash string) (*models.EmailVerificationToken, error) {
	if m.GetByHashFunc != nil {
		return m.GetByHashFunc(ctx, tokenHash)
	}
	return nil, models.ErrNotFound
}

func (m *MockEmailVerificationRepository) MarkUsed(ctx context.Context, id string) error {
	if m.MarkUsedFunc != nil {
		return m.MarkUsedFunc(ctx, id)
	}
	return nil
}

func (m *MockEmailVerificationRepository) InvalidateAllForUser(ctx context.Context, userID string) error {
	if m.InvalidateAllForUserFunc != nil {
		return m.InvalidateAllForUserFunc(ctx, userID)
	}
	return nil
}

func (m *MockEmailVerificationRepository) DeleteExpired(ctx context.Context) (int64, error) {
	if m.DeleteExpiredFunc != nil {
		return m.DeleteExpiredFunc(ctx)
	}
	return 0, nil
}

// MockEmailService implements EmailService for testing
type MockEmailService struct {
	SendVerificationEmailFunc  func(ctx context.Context, email, token string, expiresAt time.Time) error
	SendPasswordResetEmailFunc func(ctx context.Context, email, token string, expiresAt time.Time) error
}

func (m *MockEmailService) SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	if m.SendVerificationEmailFunc != nil {
		return m.SendVerificationEmailFunc(ctx, email, token, expiresAt)
	}
	return nil
}

func (m *MockEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	if m.SendPasswordResetEmailFunc != nil {
		return m.SendPasswordResetEmailFunc(ctx, email, token, expiresAt)
	}
	return nil
}
