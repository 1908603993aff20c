package models

import (
	"time"
)

type User struct {
	ID                string
	Email             string
	PasswordHash      string
	Name              string
	EmailVerified     bool
	MFAEnabled        bool
	TenantID          *string // Nullable; tenant may force MFA for all members
	CreatedAt         time.Time
	UpdatedAt         time.Time
	PasswordChangedAt *time.Time // Last password change timestamp for token invalidation
}
