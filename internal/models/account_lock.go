package models

import "time"

// AccountLock tracks the consecutive-failure counter for an account and, once
// the threshold is crossed, the lock expiry. Lock state is derived from
// LockedUntil vs. now; no explicit unlock action exists.
type AccountLock struct {
	Email        string
	UserID       *string // Nil when the email does not map to an account
	FailedCount  int
	LockedUntil  *time.Time
	UpdatedAt    time.Time
}

// IsLocked reports whether the lock is currently in effect.
func (l *AccountLock) IsLocked() bool {
	return l.LockedUntil != nil && time.Now().Before(*l.LockedUntil)
}
