package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Credential / account state errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotVerified   = errors.New("email address not verified")
	ErrDuplicateAccount   = errors.New("account already exists")
	ErrWeakPassword       = errors.New("password does not meet requirements")

	// Token errors
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")

	// MFA errors
	ErrInvalidMFA    = errors.New("invalid mfa code")
	ErrMFANotEnabled = errors.New("mfa is not enabled")

	// Session management errors
	ErrCannotRevokeCurrent = errors.New("cannot revoke current session")
	ErrNoActiveSession     = errors.New("no active session")
)

// LockedError signals that an account is temporarily locked. Unlike the
// uniform invalid_credentials signal, callers are told how long to wait.
type LockedError struct {
	LockedUntil time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.LockedUntil.Format(time.RFC3339))
}

// Remaining returns the lock duration left, clamped at zero.
func (e *LockedError) Remaining() time.Duration {
	d := time.Until(e.LockedUntil)
	if d < 0 {
		return 0
	}
	return d
}
