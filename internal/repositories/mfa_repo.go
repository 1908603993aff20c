package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/tmcfarland/docsmith/internal/database"
	"github.com/tmcfarland/docsmith/internal/models"
)

// MFARepository stores encrypted TOTP seeds and hashed backup codes.
type MFARepository struct {
	db *database.DB
}

func NewMFARepository(db *database.DB) *MFARepository {
	return &MFARepository{db: db}
}

// UpsertPendingSecret stores a freshly generated seed in the pending
// (disabled) state. Re-running setup before confirmation replaces the old
// pending seed; an already enabled seed is never overwritten here.
func (r *MFARepository) UpsertPendingSecret(ctx context.Context, secret *models.MFASecret) error {
	secret.ID = uuid.New().String()
	secret.CreatedAt = time.Now()

	query := `
		INSERT INTO mfa_secrets (id, user_id, secret_encrypted, secret_nonce, enabled, created_at)
		VALUES ($1, $2, $3, $4, false, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			secret_encrypted = EXCLUDED.secret_encrypted,
			secret_nonce = EXCLUDED.secret_nonce,
			created_at = EXCLUDED.created_at
		WHERE mfa_secrets.enabled = false
	`

	result, err := r.db.Pool.Exec(ctx, query,
		secret.ID, secret.UserID, secret.SecretEncrypted, secret.SecretNonce, secret.CreatedAt,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrConflict
	}

	return nil
}

func (r *MFARepository) GetSecret(ctx context.Context, userID string) (*models.MFASecret, error) {
	query := `
		SELECT id, user_id, secret_encrypted, secret_nonce, enabled, enabled_at, created_at
		FROM mfa_secrets WHERE user_id = $1
	`

	var secret models.MFASecret
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&secret.ID, &secret.UserID, &secret.SecretEncrypted, &secret.SecretNonce,
		&secret.Enabled, &secret.EnabledAt, &secret.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &secret, nil
}

// EnableSecret flips the pending seed to enabled and sets the user's
// mfa_enabled flag in one transaction. Backup codes were already written
// during setup; they only become redeemable once the seed is enabled.
func (r *MFARepository) EnableSecret(ctx context.Context, userID string) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE mfa_secrets SET enabled = true, enabled_at = NOW()
			WHERE user_id = $1 AND enabled = false
		`, userID)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if result.RowsAffected() == 0 {
			return models.ErrNotFound
		}

		_, err = tx.Exec(ctx, `
			UPDATE users SET mfa_enabled = true, updated_at = NOW() WHERE id = $1
		`, userID)
		return database.MapPostgresError(err)
	})
}

// DisableMFA removes the seed and all backup codes and clears the user's
// flag in one transaction.
func (r *MFARepository) DisableMFA(ctx context.Context, userID string) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = $1`, userID); err != nil {
			return database.MapPostgresError(err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM mfa_secrets WHERE user_id = $1`, userID); err != nil {
			return database.MapPostgresError(err)
		}

		_, err := tx.Exec(ctx, `
			UPDATE users SET mfa_enabled = false, updated_at = NOW() WHERE id = $1
		`, userID)
		return database.MapPostgresError(err)
	})
}

// ReplaceBackupCodes deletes the user's existing codes and inserts the new
// batch in one transaction, so regeneration invalidates every old code.
func (r *MFARepository) ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = $1`, userID); err != nil {
			return database.MapPostgresError(err)
		}

		return insertBackupCodes(ctx, tx, userID, codeHashes)
	})
}

func insertBackupCodes(ctx context.Context, tx pgx.Tx, userID string, codeHashes []string) error {
	query := `
		INSERT INTO mfa_backup_codes (id, user_id, code_hash)
		VALUES ($1, $2, $3)
	`

	for _, hash := range codeHashes {
		if _, err := tx.Exec(ctx, query, uuid.New().String(), userID, hash); err != nil {
			return database.MapPostgresError(err)
		}
	}

	return nil
}

// ListUnusedBackupCodes returns the user's unconsumed codes for comparison.
func (r *MFARepository) ListUnusedBackupCodes(ctx context.Context, userID string) ([]*models.MFABackupCode, error) {
	query := `
		SELECT id, user_id, code_hash, used, used_at, created_at
		FROM mfa_backup_codes
		WHERE user_id = $1 AND used = false
		ORDER BY created_at
	`

	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query backup codes: %w", err)
	}
	defer rows.Close()

	codes := make([]*models.MFABackupCode, 0)
	for rows.Next() {
		var code models.MFABackupCode
		err := rows.Scan(&code.ID, &code.UserID, &code.CodeHash, &code.Used, &code.UsedAt, &code.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backup code: %w", err)
		}
		codes = append(codes, &code)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return codes, nil
}

// MarkBackupCodeUsed consumes a code. The used = false gate makes the
// single-use guarantee hold under concurrent redemption of the same code.
func (r *MFARepository) MarkBackupCodeUsed(ctx context.Context, id string) error {
	query := `
		UPDATE mfa_backup_codes SET used = true, used_at = NOW()
		WHERE id = $1 AND used = false
	`

	result, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrInvalidMFA
	}

	return nil
}

// CountUnusedBackupCodes reports how many codes the user has left.
func (r *MFARepository) CountUnusedBackupCodes(ctx context.Context, userID string) (int, error) {
	query := `SELECT COUNT(*) FROM mfa_backup_codes WHERE user_id = $1 AND used = false`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(&count)
	return count, err
}
