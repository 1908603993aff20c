package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/tmcfarland/docsmith/internal/repositories"
)

// Expired rows are kept for a while after expiry so reuse of a rotated
// refresh token can still be detected and audited.
const refreshTokenRetention = 30 * 24 * time.Hour

// Attempt ledger and lock rows older than this no longer feed any policy.
const attemptRetention = 90 * 24 * time.Hour

// CleanupManager periodically removes expired security artifacts: refresh
// tokens past retention, stale attempt/lock rows, lapsed device trust and
// dead one-time tokens.
type CleanupManager struct {
	refreshRepo      *repositories.RefreshTokenRepository
	attemptRepo      *repositories.LoginAttemptRepository
	lockRepo         *repositories.AccountLockRepository
	deviceRepo       *repositories.TrustedDeviceRepository
	resetRepo        *repositories.PasswordResetRepository
	verificationRepo *repositories.EmailVerificationRepository
	logger           *slog.Logger
	interval         time.Duration
	stopCh           chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	refreshRepo *repositories.RefreshTokenRepository,
	attemptRepo *repositories.LoginAttemptRepository,
	lockRepo *repositories.AccountLockRepository,
	deviceRepo *repositories.TrustedDeviceRepository,
	resetRepo *repositories.PasswordResetRepository,
	verificationRepo *repositories.EmailVerificationRepository,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		refreshRepo:      refreshRepo,
		attemptRepo:      attemptRepo,
		lockRepo:         lockRepo,
		deviceRepo:       deviceRepo,
		resetRepo:        resetRepo,
		verificationRepo: verificationRepo,
		logger:           logger,
		interval:         interval,
		stopCh:           make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// runCleanup sweeps every expirable table. One failing sweep does not stop
// the others.
func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	sweeps := []struct {
		name string
		run  func(context.Context) (int64, error)
	}{
		{"refresh_tokens", func(ctx context.Context) (int64, error) {
			return cm.refreshRepo.DeleteExpired(ctx, refreshTokenRetention)
		}},
		{"login_attempts", func(ctx context.Context) (int64, error) {
			return cm.attemptRepo.DeleteOlderThan(ctx, time.Now().Add(-attemptRetention))
		}},
		{"account_locks", func(ctx context.Context) (int64, error) {
			return cm.lockRepo.DeleteStale(ctx, time.Now().Add(-attemptRetention))
		}},
		{"trusted_devices", cm.deviceRepo.DeleteExpired},
		{"password_reset_tokens", cm.resetRepo.DeleteExpired},
		{"email_verification_tokens", cm.verificationRepo.DeleteExpired},
	}

	for _, sweep := range sweeps {
		rowsDeleted, err := sweep.run(cleanupCtx)
		if err != nil {
			cm.logger.Error("cleanup sweep failed",
				slog.String("table", sweep.name),
				slog.Any("error", err))
			continue
		}
		if rowsDeleted > 0 {
			cm.logger.Info("cleanup sweep completed",
				slog.String("table", sweep.name),
				slog.Int64("rows_deleted", rowsDeleted))
		}
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
