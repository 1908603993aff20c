package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/tmcfarland/docsmith/internal/database"
	"github.com/tmcfarland/docsmith/internal/models"
)

// TrustedDeviceRepository stores device trust grants used to bypass the MFA
// step for a limited period after a fully verified login.
type TrustedDeviceRepository struct {
	db *database.DB
}

func NewTrustedDeviceRepository(db *database.DB) *TrustedDeviceRepository {
	return &TrustedDeviceRepository{db: db}
}

const trustedDeviceColumns = `id, user_id, fingerprint, device_name, ip_address, trusted_until, revoked, last_used_at, created_at`

func scanTrustedDeviceRow(scanner rowScanner) (*models.TrustedDevice, error) {
	var device models.TrustedDevice

	err := scanner.Scan(
		&device.ID, &device.UserID, &device.Fingerprint, &device.DeviceName,
		&device.IPAddress, &device.TrustedUntil, &device.Revoked,
		&device.LastUsedAt, &device.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &device, nil
}

// Upsert records or renews trust for a (user, fingerprint) pair. Trusting a
// device again extends its window and clears any prior revocation.
func (r *TrustedDeviceRepository) Upsert(ctx context.Context, device *models.TrustedDevice) (*models.TrustedDevice, error) {
	query := `
		INSERT INTO trusted_devices (id, user_id, fingerprint, device_name, ip_address, trusted_until)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, fingerprint) DO UPDATE SET
			device_name = EXCLUDED.device_name,
			ip_address = EXCLUDED.ip_address,
			trusted_until = EXCLUDED.trusted_until,
			revoked = false
		RETURNING ` + trustedDeviceColumns

	return scanTrustedDeviceRow(r.db.Pool.QueryRow(ctx, query,
		uuid.New().String(), device.UserID, device.Fingerprint,
		device.DeviceName, device.IPAddress, device.TrustedUntil,
	))
}

// GetActive returns the unrevoked, unexpired trust grant matching the
// fingerprint, or ErrNotFound.
func (r *TrustedDeviceRepository) GetActive(ctx context.Context, userID, fingerprint string) (*models.TrustedDevice, error) {
	query := `
		SELECT ` + trustedDeviceColumns + `
		FROM trusted_devices
		WHERE user_id = $1 AND fingerprint = $2 AND revoked = false AND trusted_until > NOW()
	`

	return scanTrustedDeviceRow(r.db.Pool.QueryRow(ctx, query, userID, fingerprint))
}

// TouchLastUsed records that a trust grant was exercised.
func (r *TrustedDeviceRepository) TouchLastUsed(ctx context.Context, id string) error {
	query := `UPDATE trusted_devices SET last_used_at = NOW() WHERE id = $1`

	_, err := r.db.Pool.Exec(ctx, query, id)
	return database.MapPostgresError(err)
}

// ListForUser returns the user's current trust grants, newest first.
func (r *TrustedDeviceRepository) ListForUser(ctx context.Context, userID string) ([]*models.TrustedDevice, error) {
	query := `
		SELECT ` + trustedDeviceColumns + `
		FROM trusted_devices
		WHERE user_id = $1 AND revoked = false AND trusted_until > NOW()
		ORDER BY created_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trusted devices: %w", err)
	}
	defer rows.Close()

	devices := make([]*models.TrustedDevice, 0)
	for rows.Next() {
		device, err := scanTrustedDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trusted device: %w", err)
		}
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return devices, nil
}

// Revoke withdraws a single trust grant owned by the given user.
func (r *TrustedDeviceRepository) Revoke(ctx context.Context, id, userID string) error {
	query := `
		UPDATE trusted_devices SET revoked = true
		WHERE id = $1 AND user_id = $2 AND revoked = false
	`

	result, err := r.db.Pool.Exec(ctx, query, id, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// RevokeAllForUser withdraws every trust grant for a user.
func (r *TrustedDeviceRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	query := `UPDATE trusted_devices SET revoked = true WHERE user_id = $1 AND revoked = false`

	result, err := r.db.Pool.Exec(ctx, query, userID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}

// DeleteExpired removes grants past their trust window.
func (r *TrustedDeviceRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM trusted_devices WHERE trusted_until < NOW()`

	result, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
