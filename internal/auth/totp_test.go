package auth

import (
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTOTPManager(t *testing.T) *TOTPManager {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	tm, err := NewTOTPManager(key, "Docsmith")
	require.NoError(t, err)
	return tm
}

func TestNewTOTPManager_ValidKey(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	tm, err := NewTOTPManager(key, "Docsmith")
	assert.NoError(t, err)
	assert.NotNil(t, tm)
}

func TestNewTOTPManager_InvalidKeyLength(t *testing.T) {
	for _, length := range []int{0, 16, 24, 31, 33, 64} {
		key := make([]byte, length)
		tm, err := NewTOTPManager(key, "Docsmith")
		assert.Error(t, err)
		assert.Nil(t, tm)
		assert.Contains(t, err.Error(), "must be exactly 32 bytes")
	}
}

func TestGenerateSecretWithQR(t *testing.T) {
	tm := newTOTPManager(t)

	encrypted, nonce, secret, qrDataURL, err := tm.GenerateSecretWithQR("ana@example.com")
	require.NoError(t, err)

	assert.NotEmpty(t, encrypted)
	assert.NotEmpty(t, nonce)
	assert.NotEmpty(t, secret)
	assert.True(t, strings.HasPrefix(qrDataURL, "data:image/png;base64,"))

	// The stored ciphertext must decrypt back to the displayed seed
	decrypted, err := tm.DecryptSecret(encrypted, nonce)
	require.NoError(t, err)
	assert.Equal(t, secret, string(decrypted))
}

func TestEncryptDecryptSecret_RoundTrip(t *testing.T) {
	tm := newTOTPManager(t)

	encrypted, nonce, err := tm.EncryptSecret([]byte("JBSWY3DPEHPK3PXP"))
	require.NoError(t, err)
	assert.NotEqual(t, "JBSWY3DPEHPK3PXP", string(encrypted))

	decrypted, err := tm.DecryptSecret(encrypted, nonce)
	require.NoError(t, err)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", string(decrypted))
}

func TestDecryptSecret_TamperedCiphertext(t *testing.T) {
	tm := newTOTPManager(t)

	encrypted, nonce, err := tm.EncryptSecret([]byte("JBSWY3DPEHPK3PXP"))
	require.NoError(t, err)

	encrypted[0] ^= 0xff
	_, err = tm.DecryptSecret(encrypted, nonce)
	assert.Error(t, err)
}

func TestDecryptSecret_WrongKey(t *testing.T) {
	tm := newTOTPManager(t)
	other := newTOTPManager(t)

	encrypted, nonce, err := tm.EncryptSecret([]byte("JBSWY3DPEHPK3PXP"))
	require.NoError(t, err)

	_, err = other.DecryptSecret(encrypted, nonce)
	assert.Error(t, err)
}

func TestValidateTOTP_CurrentCode(t *testing.T) {
	tm := newTOTPManager(t)
	_, _, secret, _, err := tm.GenerateSecretWithQR("ana@example.com")
	require.NoError(t, err)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	valid, err := tm.ValidateTOTP([]byte(secret), code)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestValidateTOTP_AdjacentStepsAccepted(t *testing.T) {
	tm := newTOTPManager(t)
	_, _, secret, _, err := tm.GenerateSecretWithQR("ana@example.com")
	require.NoError(t, err)

	previous, err := totp.GenerateCode(secret, time.Now().Add(-30*time.Second))
	require.NoError(t, err)
	next, err := totp.GenerateCode(secret, time.Now().Add(30*time.Second))
	require.NoError(t, err)

	for _, code := range []string{previous, next} {
		valid, err := tm.ValidateTOTP([]byte(secret), code)
		require.NoError(t, err)
		assert.True(t, valid)
	}
}

func TestValidateTOTP_StaleCodeRejected(t *testing.T) {
	tm := newTOTPManager(t)
	_, _, secret, _, err := tm.GenerateSecretWithQR("ana@example.com")
	require.NoError(t, err)

	// Two steps back is outside the ±1 step window
	stale, err := totp.GenerateCode(secret, time.Now().Add(-90*time.Second))
	require.NoError(t, err)

	valid, err := tm.ValidateTOTP([]byte(secret), stale)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestValidateTOTP_GarbageCode(t *testing.T) {
	tm := newTOTPManager(t)
	_, _, secret, _, err := tm.GenerateSecretWithQR("ana@example.com")
	require.NoError(t, err)

	valid, err := tm.ValidateTOTP([]byte(secret), "000000")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestValidateTOTP_NonTOTPShapedCodeIsNotValid(t *testing.T) {
	tm := newTOTPManager(t)
	_, _, secret, _, err := tm.GenerateSecretWithQR("ana@example.com")
	require.NoError(t, err)

	// Backup codes are 8 characters; presenting one here must read as a
	// non-match so the caller can fall through to the backup-code check.
	valid, err := tm.ValidateTOTP([]byte(secret), "ABCD2345")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestGenerateBackupCodes(t *testing.T) {
	tm := newTOTPManager(t)

	codes, err := tm.GenerateBackupCodes(10)
	require.NoError(t, err)
	require.Len(t, codes, 10)

	seen := make(map[string]bool)
	for _, code := range codes {
		assert.Len(t, code, 8)
		// Ambiguous characters are excluded from the charset
		assert.NotContains(t, code, "0")
		assert.NotContains(t, code, "O")
		assert.NotContains(t, code, "1")
		assert.NotContains(t, code, "I")
		assert.NotContains(t, code, "L")
		seen[code] = true
	}
	assert.Len(t, seen, 10, "backup codes should be unique")
}
