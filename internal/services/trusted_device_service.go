package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tmcfarland/docsmith/internal/auth"
	"github.com/tmcfarland/docsmith/internal/models"
	pkglogger "github.com/tmcfarland/docsmith/pkg/logger"
)

// TrustedDeviceRepository defines the interface for device trust storage
type TrustedDeviceRepository interface {
	Upsert(ctx context.Context, device *models.TrustedDevice) (*models.TrustedDevice, error)
	GetActive(ctx context.Context, userID, fingerprint string) (*models.TrustedDevice, error)
	TouchLastUsed(ctx context.Context, id string) error
	ListForUser(ctx context.Context, userID string) ([]*models.TrustedDevice, error)
	Revoke(ctx context.Context, id, userID string) error
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// TrustedDeviceService manages device trust grants that let a device skip
// the MFA step for a limited window.
type TrustedDeviceService struct {
	repo        TrustedDeviceRepository
	ttl         time.Duration
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewTrustedDeviceService creates a new TrustedDeviceService
func NewTrustedDeviceService(repo TrustedDeviceRepository, ttl time.Duration, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *TrustedDeviceService {
	return &TrustedDeviceService{
		repo:        repo,
		ttl:         ttl,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// IsTrusted reports whether the requesting device holds an active trust
// grant for the user. A hit refreshes the grant's last-used marker.
func (s *TrustedDeviceService) IsTrusted(ctx context.Context, userID string, meta models.DeviceMeta) (bool, error) {
	fingerprint := auth.DeviceFingerprint(meta.IPAddress, meta.UserAgent)

	device, err := s.repo.GetActive(ctx, userID, fingerprint)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		s.logger.Error("failed to check device trust", slog.String("user_id", userID), slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	if err := s.repo.TouchLastUsed(ctx, device.ID); err != nil {
		s.logger.Error("failed to touch trusted device", slog.String("device_id", device.ID), slog.Any("error", err))
	}

	return true, nil
}

// Trust records the requesting device as trusted for the configured window.
// Only called after a full MFA-verified login; re-trusting extends the window.
func (s *TrustedDeviceService) Trust(ctx context.Context, userID string, meta models.DeviceMeta) (*models.TrustedDevice, error) {
	device := &models.TrustedDevice{
		UserID:       userID,
		Fingerprint:  auth.DeviceFingerprint(meta.IPAddress, meta.UserAgent),
		DeviceName:   meta.DeviceName,
		IPAddress:    meta.IPAddress,
		TrustedUntil: time.Now().Add(s.ttl),
	}

	stored, err := s.repo.Upsert(ctx, device)
	if err != nil {
		s.logger.Error("failed to trust device", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("device trusted", slog.String("user_id", userID), slog.String("device_id", stored.ID))
	s.auditLogger.LogAccountAction("device_trusted", userID, meta.IPAddress, map[string]string{
		"device_id": stored.ID,
	})

	return stored, nil
}

// List returns the user's active trust grants.
func (s *TrustedDeviceService) List(ctx context.Context, userID string) ([]*models.TrustedDevice, error) {
	devices, err := s.repo.ListForUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list trusted devices", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return devices, nil
}

// Revoke withdraws one trust grant; the device will face MFA on next login.
func (s *TrustedDeviceService) Revoke(ctx context.Context, userID, deviceID string) error {
	err := s.repo.Revoke(ctx, deviceID, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to revoke trusted device", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("device_trust_revoked", userID, "", map[string]string{
		"device_id": deviceID,
	})

	return nil
}

// RevokeAll withdraws every trust grant for the user.
func (s *TrustedDeviceService) RevokeAll(ctx context.Context, userID string) error {
	count, err := s.repo.RevokeAllForUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to revoke trusted devices", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("revoked all trusted devices", slog.String("user_id", userID), slog.Int64("count", count))
	return nil
}
