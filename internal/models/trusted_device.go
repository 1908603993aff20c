package models

import "time"

// TrustedDevice is a fingerprinted client allowed to bypass MFA until
// TrustedUntil. Re-trusting the same fingerprint extends the window rather
// than duplicating the row.
type TrustedDevice struct {
	ID           string     `json:"id"`
	UserID       string     `json:"-"`
	Fingerprint  string     `json:"-"` // sha256(ip + user-agent), never exposed
	DeviceName   string     `json:"device_name"`
	IPAddress    string     `json:"ip_address"`
	TrustedUntil time.Time  `json:"trusted_until"`
	Revoked      bool       `json:"-"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// IsTrusted reports whether the device may currently bypass MFA.
func (d *TrustedDevice) IsTrusted() bool {
	return !d.Revoked && time.Now().Before(d.TrustedUntil)
}
