package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tmcfarland/docsmith/internal/models"
	pkgauth "github.com/tmcfarland/docsmith/pkg/auth"
)

type authTestMocks struct {
	users         *MockUserRepository
	tenants       *MockTenantRepository
	resets        *MockPasswordResetRepository
	refreshTokens *MockRefreshTokenRepository
	locks         *MockAccountLockRepository
	attempts      *MockLoginAttemptRepository
	mfa           *MockMFARepository
	devices       *MockTrustedDeviceRepository
	verifications *MockEmailVerificationRepository
	email         *MockEmailService
}

func newAuthTestMocks() *authTestMocks {
	return &authTestMocks{
		users:         &MockUserRepository{},
		tenants:       &MockTenantRepository{},
		resets:        &MockPasswordResetRepository{},
		refreshTokens: &MockRefreshTokenRepository{},
		locks:         &MockAccountLockRepository{},
		attempts:      &MockLoginAttemptRepository{},
		mfa:           &MockMFARepository{},
		devices:       &MockTrustedDeviceRepository{},
		verifications: &MockEmailVerificationRepository{},
		email:         &MockEmailService{},
	}
}

func newTestAuthService(m *authTestMocks) *AuthService {
	logger := testLogger()
	audit := testAuditLogger()

	tokens := NewTokenService(m.refreshTokens, m.users, testTokenManager(), 7*24*time.Hour, logger, audit)
	lockout := NewLockoutService(m.locks, m.attempts, 5, 15*time.Minute, logger, audit)
	mfa := NewMFAService(m.mfa, m.users, testTOTPManager(), logger, audit)
	devices := NewTrustedDeviceService(m.devices, 30*24*time.Hour, logger, audit)
	verification := NewEmailVerificationService(m.verifications, m.users, m.email, 24*time.Hour, logger, audit)

	return NewAuthService(
		m.users, m.tenants, m.resets,
		tokens, lockout, mfa, devices, verification, m.email,
		testTimingDelay(), time.Hour, logger, audit,
	)
}

// Cheap hash for test fixtures; production hashing uses a higher cost.
func testPasswordHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func verifiedUser(t *testing.T, password string) *models.User {
	t.Helper()
	return &models.User{
		ID:            "user_1",
		Email:         "ana@example.com",
		PasswordHash:  testPasswordHash(t, password),
		Name:          "Ana",
		EmailVerified: true,
	}
}

func TestLogin_Success(t *testing.T) {
	m := newAuthTestMocks()
	user := verifiedUser(t, "correct horse battery")
	m.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		assert.Equal(t, "ana@example.com", email)
		return user, nil
	}
	resetCalled := false
	m.locks.ResetFunc = func(ctx context.Context, email string) error {
		resetCalled = true
		return nil
	}
	svc := newTestAuthService(m)

	result, err := svc.Login(context.Background(), "Ana@Example.com", "correct horse battery", models.DeviceMeta{IPAddress: "10.0.0.1"})

	require.NoError(t, err)
	assert.Equal(t, models.LoginStatusAuthenticated, result.Status)
	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.RefreshToken)
	assert.Equal(t, user, result.User)
	assert.True(t, resetCalled, "a successful login resets the failure streak")
}

func TestLogin_UnknownAccount(t *testing.T) {
	m := newAuthTestMocks()
	var recordedUserID *string
	recorded := false
	m.locks.RecordFailureFunc = func(ctx context.Context, email string, userID *string) (int, error) {
		recorded = true
		recordedUserID = userID
		return 1, nil
	}
	svc := newTestAuthService(m)

	_, err := svc.Login(context.Background(), "ghost@example.com", "whatever", models.DeviceMeta{})

	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	assert.True(t, recorded, "unknown accounts still count toward the per-email streak")
	assert.Nil(t, recordedUserID)
}

func TestLogin_WrongPassword(t *testing.T) {
	m := newAuthTestMocks()
	user := verifiedUser(t, "right-password")
	m.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		return user, nil
	}
	var recordedUserID *string
	m.locks.RecordFailureFunc = func(ctx context.Context, email string, userID *string) (int, error) {
		recordedUserID = userID
		return 2, nil
	}
	svc := newTestAuthService(m)

	_, err := svc.Login(context.Background(), "ana@example.com", "wrong-password", models.DeviceMeta{})

	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	require.NotNil(t, recordedUserID)
	assert.Equal(t, "user_1", *recordedUserID)
}

func TestLogin_FifthFailureStillReturnsInvalidCredentials(t *testing.T) {
	m := newAuthTestMocks()
	m.locks.RecordFailureFunc = func(ctx context.Context, email string, userID *string) (int, error) {
		return 5, nil
	}
	svc := newTestAuthService(m)

	// The lock is created silently; the locked signal only appears on the
	// next attempt, so the attacker gets no confirmation the threshold hit.
	_, err := svc.Login(context.Background(), "ana@example.com", "wrong", models.DeviceMeta{})
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestLogin_LockedAccountRejectsEvenCorrectPassword(t *testing.T) {
	m := newAuthTestMocks()
	until := time.Now().Add(10 * time.Minute)
	m.locks.GetFunc = func(ctx context.Context, email string) (*models.AccountLock, error) {
		return &models.AccountLock{Email: email, FailedCount: 5, LockedUntil: &until}, nil
	}
	m.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		t.Fatal("a locked account must be rejected before the credential check")
		return nil, nil
	}
	svc := newTestAuthService(m)

	result, err := svc.Login(context.Background(), "ana@example.com", "correct horse battery", models.DeviceMeta{})

	require.NoError(t, err)
	assert.Equal(t, models.LoginStatusLocked, result.Status)
	require.NotNil(t, result.LockedUntil)
	assert.Equal(t, until, result.LockedUntil.LockedUntil)
	assert.Empty(t, result.AccessToken)
}

func TestLogin_UnverifiedEmailIsRejected(t *testing.T) {
	m := newAuthTestMocks()
	user := verifiedUser(t, "correct horse battery")
	user.EmailVerified = false
	m.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		return user, nil
	}
	m.locks.RecordFailureFunc = func(ctx context.Context, email string, userID *string) (int, error) {
		t.Fatal("an unverified email must not increment the failure counter")
		return 0, nil
	}
	svc := newTestAuthService(m)

	_, err := svc.Login(context.Background(), "ana@example.com", "correct horse battery", models.DeviceMeta{})
	assert.ErrorIs(t, err, models.ErrEmailNotVerified)
}

func TestLogin_MFARequiredWithoutTrustedDevice(t *testing.T) {
	m := newAuthTestMocks()
	user := verifiedUser(t, "correct horse battery")
	user.MFAEnabled = true
	m.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		return user, nil
	}
	svc := newTestAuthService(m)

	result, err := svc.Login(context.Background(), "ana@example.com", "correct horse battery", models.DeviceMeta{})

	require.NoError(t, err)
	assert.Equal(t, models.LoginStatusRequiresMFA, result.Status)
	assert.Equal(t, "user_1", result.UserID)
	assert.Empty(t, result.AccessToken, "no tokens before MFA proof")
	assert.Empty(t, result.RefreshToken)
}

func TestLogin_TrustedDeviceSkipsMFA(t *testing.T) {
	m := newAuthTestMocks()
	user := verifiedUser(t, "correct horse battery")
	user.MFAEnabled = true
	m.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		return user, nil
	}
	touched := false
	m.devices.GetActiveFunc = func(ctx context.Context, userID, fingerprint string) (*models.TrustedDevice, error) {
		return &models.TrustedDevice{ID: "td_1", UserID: userID, TrustedUntil: time.Now().Add(time.Hour)}, nil
	}
	m.devices.TouchLastUsedFunc = func(ctx context.Context, id string) error {
		touched = true
		return nil
	}
	svc := newTestAuthService(m)

	result, err := svc.Login(context.Background(), "ana@example.com", "correct horse battery",
		models.DeviceMeta{IPAddress: "10.0.0.1", UserAgent: "firefox"})

	require.NoError(t, err)
	assert.Equal(t, models.LoginStatusAuthenticated, result.Status)
	assert.NotEmpty(t, result.AccessToken)
	assert.True(t, touched)
}

func TestLogin_TenantPolicyForcesMFA(t *testing.T) {
	m := newAuthTestMocks()
	tenantID := "tenant_1"
	user := verifiedUser(t, "correct horse battery")
	user.TenantID = &tenantID
	m.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		return user, nil
	}
	m.tenants.GetByIDFunc = func(ctx context.Context, id string) (*models.Tenant, error) {
		assert.Equal(t, tenantID, id)
		return &models.Tenant{ID: tenantID, MFARequired: true}, nil
	}
	svc := newTestAuthService(m)

	result, err := svc.Login(context.Background(), "ana@example.com", "correct horse battery", models.DeviceMeta{})

	require.NoError(t, err)
	assert.Equal(t, models.LoginStatusRequiresMFA, result.Status)
}

func TestVerifyMFALogin_ValidTOTPCode(t *testing.T) {
	m := newAuthTestMocks()
	tm := testTOTPManager()
	encrypted, nonce, seed, _, err := tm.GenerateSecretWithQR("ana@example.com")
	require.NoError(t, err)

	user := verifiedUser(t, "correct horse battery")
	user.MFAEnabled = true
	m.users.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
		return user, nil
	}
	m.mfa.GetSecretFunc = func(ctx context.Context, userID string) (*models.MFASecret, error) {
		return &models.MFASecret{UserID: userID, SecretEncrypted: encrypted, SecretNonce: nonce, Enabled: true}, nil
	}
	svc := newTestAuthService(m)

	code, err := totp.GenerateCode(seed, time.Now())
	require.NoError(t, err)

	result, err := svc.VerifyMFALogin(context.Background(), "user_1", code, models.DeviceMeta{})

	require.NoError(t, err)
	assert.Equal(t, models.LoginStatusAuthenticated, result.Status)
	assert.NotEmpty(t, result.AccessToken)
}

func TestVerifyMFALogin_InvalidCode(t *testing.T) {
	m := newAuthTestMocks()
	tm := testTOTPManager()
	encrypted, nonce, _, _, err := tm.GenerateSecretWithQR("ana@example.com")
	require.NoError(t, err)

	user := verifiedUser(t, "correct horse battery")
	user.MFAEnabled = true
	m.users.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
		return user, nil
	}
	m.mfa.GetSecretFunc = func(ctx context.Context, userID string) (*models.MFASecret, error) {
		return &models.MFASecret{UserID: userID, SecretEncrypted: encrypted, SecretNonce: nonce, Enabled: true}, nil
	}
	m.locks.RecordFailureFunc = func(ctx context.Context, email string, userID *string) (int, error) {
		t.Fatal("a failed MFA proof must not touch the credential lockout counter")
		return 0, nil
	}
	svc := newTestAuthService(m)

	_, err = svc.VerifyMFALogin(context.Background(), "user_1", "000000", models.DeviceMeta{})
	assert.ErrorIs(t, err, models.ErrInvalidMFA)
}

func TestVerifyMFALogin_UnknownUser(t *testing.T) {
	svc := newTestAuthService(newAuthTestMocks())

	_, err := svc.VerifyMFALogin(context.Background(), "no-such-user", "123456", models.DeviceMeta{})
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestVerifyMFALogin_LockedBetweenStages(t *testing.T) {
	m := newAuthTestMocks()
	user := verifiedUser(t, "correct horse battery")
	user.MFAEnabled = true
	m.users.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
		return user, nil
	}
	until := time.Now().Add(10 * time.Minute)
	m.locks.GetFunc = func(ctx context.Context, email string) (*models.AccountLock, error) {
		return &models.AccountLock{Email: email, LockedUntil: &until}, nil
	}
	svc := newTestAuthService(m)

	result, err := svc.VerifyMFALogin(context.Background(), "user_1", "123456", models.DeviceMeta{})

	require.NoError(t, err)
	assert.Equal(t, models.LoginStatusLocked, result.Status)
}

func TestRegister_CreatesUnverifiedAccount(t *testing.T) {
	m := newAuthTestMocks()
	var created *models.User
	m.users.CreateFunc = func(ctx context.Context, user *models.User) (*models.User, error) {
		created = user
		user.ID = "user_new"
		return user, nil
	}
	emailSent := false
	m.email.SendVerificationEmailFunc = func(ctx context.Context, email, token string, expiresAt time.Time) error {
		emailSent = true
		return nil
	}
	svc := newTestAuthService(m)

	user, err := svc.Register(context.Background(), "New@Example.com", "Str0ng!passphrase", "New User")

	require.NoError(t, err)
	assert.Equal(t, "user_new", user.ID)
	require.NotNil(t, created)
	assert.Equal(t, "new@example.com", created.Email)
	assert.False(t, created.EmailVerified)
	assert.NotEqual(t, "Str0ng!passphrase", created.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(created.PasswordHash), []byte("Str0ng!passphrase")))
	require.NotNil(t, created.PasswordChangedAt)
	assert.True(t, emailSent)
}

func TestRegister_DuplicateAccount(t *testing.T) {
	m := newAuthTestMocks()
	m.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		return &models.User{ID: "user_1", Email: email}, nil
	}
	svc := newTestAuthService(m)

	_, err := svc.Register(context.Background(), "ana@example.com", "Str0ng!passphrase", "Ana")
	assert.ErrorIs(t, err, models.ErrDuplicateAccount)
}

func TestRegister_WeakPassword(t *testing.T) {
	svc := newTestAuthService(newAuthTestMocks())

	_, err := svc.Register(context.Background(), "ana@example.com", "short", "Ana")

	var weak *pkgauth.PasswordValidationError
	assert.True(t, errors.As(err, &weak), "expected a password validation error, got %v", err)
}

func TestForgotPassword_UnknownEmailIsSilent(t *testing.T) {
	m := newAuthTestMocks()
	m.email.SendPasswordResetEmailFunc = func(ctx context.Context, email, token string, expiresAt time.Time) error {
		t.Fatal("no email for unknown accounts")
		return nil
	}
	svc := newTestAuthService(m)

	assert.NoError(t, svc.ForgotPassword(context.Background(), "ghost@example.com", models.DeviceMeta{}))
}

func TestForgotPassword_IssuesToken(t *testing.T) {
	m := newAuthTestMocks()
	user := verifiedUser(t, "correct horse battery")
	m.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		return user, nil
	}
	invalidated := false
	m.resets.InvalidateAllForUserFunc = func(ctx context.Context, userID string) error {
		invalidated = true
		return nil
	}
	var stored *models.PasswordResetToken
	m.resets.CreateFunc = func(ctx context.Context, token *models.PasswordResetToken) (*models.PasswordResetToken, error) {
		stored = token
		token.ID = "prt_1"
		return token, nil
	}
	var mailedToken string
	m.email.SendPasswordResetEmailFunc = func(ctx context.Context, email, token string, expiresAt time.Time) error {
		mailedToken = token
		return nil
	}
	svc := newTestAuthService(m)

	require.NoError(t, svc.ForgotPassword(context.Background(), "ana@example.com", models.DeviceMeta{}))

	assert.True(t, invalidated, "older outstanding tokens are invalidated first")
	require.NotNil(t, stored)
	assert.Equal(t, pkgauth.HashToken(mailedToken), stored.TokenHash, "the mail carries the raw token, storage only its hash")
}

func TestResetPassword_RebaselinesAccount(t *testing.T) {
	m := newAuthTestMocks()
	raw, err := pkgauth.GenerateOpaqueToken()
	require.NoError(t, err)

	m.resets.GetByHashFunc = func(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
		return &models.PasswordResetToken{ID: "prt_1", UserID: "user_1", TokenHash: tokenHash, ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
	markedUsed := false
	m.resets.MarkUsedFunc = func(ctx context.Context, id string) error {
		markedUsed = true
		return nil
	}
	passwordUpdated := false
	m.users.UpdatePasswordFunc = func(ctx context.Context, id, passwordHash string) error {
		passwordUpdated = true
		assert.Equal(t, "user_1", id)
		return nil
	}
	sessionsRevoked := false
	m.refreshTokens.RevokeAllForUserFunc = func(ctx context.Context, userID string) (int64, error) {
		sessionsRevoked = true
		return 3, nil
	}
	devicesRevoked := false
	m.devices.RevokeAllForUserFunc = func(ctx context.Context, userID string) (int64, error) {
		devicesRevoked = true
		return 2, nil
	}
	svc := newTestAuthService(m)

	require.NoError(t, svc.ResetPassword(context.Background(), raw, "Br4nd!new-passphrase", models.DeviceMeta{}))

	assert.True(t, markedUsed)
	assert.True(t, passwordUpdated)
	assert.True(t, sessionsRevoked, "a reset revokes every refresh token")
	assert.True(t, devicesRevoked, "a reset revokes every trusted device")
}

func TestResetPassword_InvalidToken(t *testing.T) {
	svc := newTestAuthService(newAuthTestMocks())

	err := svc.ResetPassword(context.Background(), "bogus", "Br4nd!new-passphrase", models.DeviceMeta{})
	assert.ErrorIs(t, err, models.ErrInvalidResetToken)
}

func TestResetPassword_ExpiredToken(t *testing.T) {
	m := newAuthTestMocks()
	m.resets.GetByHashFunc = func(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
		return &models.PasswordResetToken{ID: "prt_1", UserID: "user_1", ExpiresAt: time.Now().Add(-time.Minute)}, nil
	}
	svc := newTestAuthService(m)

	err := svc.ResetPassword(context.Background(), "some-token", "Br4nd!new-passphrase", models.DeviceMeta{})
	assert.ErrorIs(t, err, models.ErrInvalidResetToken)
}

func TestResetPassword_DoubleSubmitLoses(t *testing.T) {
	m := newAuthTestMocks()
	m.resets.GetByHashFunc = func(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
		return &models.PasswordResetToken{ID: "prt_1", UserID: "user_1", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
	m.resets.MarkUsedFunc = func(ctx context.Context, id string) error {
		return models.ErrInvalidResetToken
	}
	m.users.UpdatePasswordFunc = func(ctx context.Context, id, passwordHash string) error {
		t.Fatal("the password must not change when the token was already consumed")
		return nil
	}
	svc := newTestAuthService(m)

	err := svc.ResetPassword(context.Background(), "some-token", "Br4nd!new-passphrase", models.DeviceMeta{})
	assert.ErrorIs(t, err, models.ErrInvalidResetToken)
}
