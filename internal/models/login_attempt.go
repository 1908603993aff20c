package models

import "time"

// LoginAttempt is an append-only fact; rows are never mutated, only queried
// in rolling windows and eventually expired by the cleanup task.
type LoginAttempt struct {
	ID            string     `db:"id"`
	Email         string     `db:"email"`
	IPAddress     string     `db:"ip_address"`
	UserAgent     string     `db:"user_agent"`
	AttemptTime   time.Time  `db:"attempt_time"`
	Success       bool       `db:"success"`
	FailureReason *string    `db:"failure_reason"`
}
