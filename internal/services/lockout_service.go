package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/tmcfarland/docsmith/internal/models"
	pkglogger "github.com/tmcfarland/docsmith/pkg/logger"
)

// AccountLockRepository defines the interface for the consecutive-failure
// counter, keyed by lowercased email
type AccountLockRepository interface {
	Get(ctx context.Context, email string) (*models.AccountLock, error)
	RecordFailure(ctx context.Context, email string, userID *string) (int, error)
	Lock(ctx context.Context, email string, until time.Time) error
	Reset(ctx context.Context, email string) error
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// LoginAttemptRepository defines the interface for the append-only attempt log
type LoginAttemptRepository interface {
	RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// LockoutService enforces the consecutive-failure lockout policy and keeps
// the login attempt audit trail.
type LockoutService struct {
	locks       AccountLockRepository
	attempts    LoginAttemptRepository
	threshold   int
	duration    time.Duration
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewLockoutService creates a new LockoutService
func NewLockoutService(locks AccountLockRepository, attempts LoginAttemptRepository, threshold int, duration time.Duration, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *LockoutService {
	return &LockoutService{
		locks:       locks,
		attempts:    attempts,
		threshold:   threshold,
		duration:    duration,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// CheckLocked returns a LockedError when the account is under an unexpired
// lock. A lock row past its expiry is treated as no lock; the counter row is
// reset lazily on the next failure.
func (s *LockoutService) CheckLocked(ctx context.Context, email string) (*models.LockedError, error) {
	lock, err := s.locks.Get(ctx, email)
	if err != nil {
		s.logger.Error("failed to get account lock", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if lock != nil && lock.IsLocked() {
		return &models.LockedError{LockedUntil: *lock.LockedUntil}, nil
	}

	return nil, nil
}

// RecordFailure logs a failed attempt, increments the consecutive-failure
// counter, and creates the lock when the threshold is reached. Returns the
// lock if this failure triggered one.
func (s *LockoutService) RecordFailure(ctx context.Context, email string, userID *string, reason string, meta models.DeviceMeta) (*models.LockedError, error) {
	s.recordAttempt(ctx, email, false, reason, meta)

	count, err := s.locks.RecordFailure(ctx, email, userID)
	if err != nil {
		s.logger.Error("failed to record login failure", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if count < s.threshold {
		return nil, nil
	}

	lockedUntil := time.Now().Add(s.duration)
	if err := s.locks.Lock(ctx, email, lockedUntil); err != nil {
		s.logger.Error("failed to lock account", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Warn("account locked after consecutive failures",
		slog.Int("failed_count", count),
		slog.String("email", pkglogger.SanitizedEmail(email)))
	s.auditLogger.LogLockout(email, meta.IPAddress, lockedUntil)

	return &models.LockedError{LockedUntil: lockedUntil}, nil
}

// RecordBlocked logs a failed attempt without touching the counter. Used
// for rejections that are not credential failures: attempts during a lock,
// unverified email, failed MFA proof (a separate factor).
func (s *LockoutService) RecordBlocked(ctx context.Context, email, reason string, meta models.DeviceMeta) {
	s.recordAttempt(ctx, email, false, reason, meta)
}

// RecordSuccess logs the successful attempt and resets the failure streak.
func (s *LockoutService) RecordSuccess(ctx context.Context, email string, meta models.DeviceMeta) error {
	s.recordAttempt(ctx, email, true, "", meta)

	if err := s.locks.Reset(ctx, email); err != nil {
		s.logger.Error("failed to reset account lock", slog.Any("error", err))
		return models.ErrInternalServer
	}

	return nil
}

func (s *LockoutService) recordAttempt(ctx context.Context, email string, success bool, reason string, meta models.DeviceMeta) {
	attempt := &models.LoginAttempt{
		Email:     email,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Success:   success,
	}
	if reason != "" {
		attempt.FailureReason = &reason
	}

	// The attempt log is best-effort: a write failure must not block login.
	if err := s.attempts.RecordAttempt(ctx, attempt); err != nil {
		s.logger.Error("failed to record login attempt", slog.Any("error", err))
	}
}
