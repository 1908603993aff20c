package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the claims carried by signed access tokens. Access tokens
// are verifiable without a database lookup.
type TokenClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// LoginStatus tags the outcome of a login attempt.
type LoginStatus string

const (
	LoginStatusLocked        LoginStatus = "locked"
	LoginStatusRequiresMFA   LoginStatus = "requires_mfa"
	LoginStatusAuthenticated LoginStatus = "authenticated"
)

// LoginResult is the tagged result of the login state machine. Exactly one
// variant is populated:
//   - Locked: LockedUntil set, no tokens, no user id exposed beyond the lock
//   - RequiresMFA: UserID set, no tokens
//   - Authenticated: tokens and user set
type LoginResult struct {
	Status       LoginStatus
	LockedUntil  *LockedError
	UserID       string
	AccessToken  string
	RefreshToken string // Raw opaque value, returned exactly once
	User         *User
}
