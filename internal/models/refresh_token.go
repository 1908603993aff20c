package models

import "time"

// RefreshToken represents one active or historical session. The raw token is
// never stored; only its SHA-256 hash. Exchanging an unrevoked token revokes
// it and creates its successor in the same transaction.
type RefreshToken struct {
	ID            string
	UserID        string
	TokenHash     string `json:"-"` // Never expose the hash
	DeviceName    string
	IPAddress     string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	LastUsedAt    *time.Time
	Revoked       bool
	TheftDetected bool
}

// IsExpired checks if the token is past its expiry.
func (t *RefreshToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// IsActive checks if the token can still be exchanged.
func (t *RefreshToken) IsActive() bool {
	return !t.Revoked && !t.IsExpired()
}

// Session is the user-facing view of an active refresh token, returned by
// session listing. The token hash itself is never included.
type Session struct {
	ID         string     `json:"id"`
	DeviceName string     `json:"device_name"`
	IPAddress  string     `json:"ip_address"`
	IssuedAt   time.Time  `json:"issued_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Current    bool       `json:"current"`
}

// DeviceMeta carries per-request client metadata recorded on sessions,
// trusted devices, and login attempts.
type DeviceMeta struct {
	DeviceName string
	IPAddress  string
	UserAgent  string
}
