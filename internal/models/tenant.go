package models

import "time"

// Tenant carries org-wide security settings. When MFARequired is true every
// member must pass step-up MFA regardless of their own MFAEnabled flag.
type Tenant struct {
	ID          string
	Name        string
	MFARequired bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
