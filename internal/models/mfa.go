package models

import (
	"time"
)

// MFASecret holds a user's TOTP seed. The seed is stored AES-256-GCM
// encrypted; Enabled flips true only after the first successful proof.
type MFASecret struct {
	ID              string
	UserID          string
	SecretEncrypted []byte // AES-256-GCM encrypted TOTP seed
	SecretNonce     []byte // GCM nonce (12 bytes)
	Enabled         bool
	EnabledAt       *time.Time
	CreatedAt       time.Time
}

// MFABackupCode is a single-use fallback second factor. A batch of exactly
// BackupCodeCount codes is created whenever MFA is enabled or codes are
// regenerated; consuming one sets Used and it can never be accepted again.
type MFABackupCode struct {
	ID        string
	UserID    string
	CodeHash  string `json:"-"` // Bcrypt hash of the code
	Used      bool
	UsedAt    *time.Time
	CreatedAt time.Time
}

// BackupCodeCount is the fixed batch size issued at setup and regeneration.
const BackupCodeCount = 10

// MFASetupResponse contains enrollment information for MFA setup.
type MFASetupResponse struct {
	Secret      string   `json:"secret"`       // Base32 seed for manual entry
	QRCode      string   `json:"qr_code"`      // PNG data URL of the provisioning URI
	BackupCodes []string `json:"backup_codes"` // Shown exactly once
}
