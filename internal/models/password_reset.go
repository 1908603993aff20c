package models

import "time"

// PasswordResetToken is stored hashed; the raw token travels only in the
// reset email. A successful reset is a full security re-baseline: all refresh
// tokens and trusted devices for the user are revoked.
type PasswordResetToken struct {
	ID        string
	UserID    string
	TokenHash string `json:"-"`
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// IsValid checks if the token is still usable (not expired and not used).
func (t *PasswordResetToken) IsValid() bool {
	return t.UsedAt == nil && time.Now().Before(t.ExpiresAt)
}
