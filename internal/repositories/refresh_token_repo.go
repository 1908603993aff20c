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

// RefreshTokenRepository handles persistence of opaque refresh tokens.
// Only SHA-256 hashes of token values are ever stored.
type RefreshTokenRepository struct {
	db *database.DB
}

func NewRefreshTokenRepository(db *database.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

const refreshTokenColumns = `id, user_id, token_hash, device_name, ip_address, issued_at, expires_at, last_used_at, revoked, theft_detected`

func scanRefreshTokenRow(scanner rowScanner) (*models.RefreshToken, error) {
	var token models.RefreshToken

	err := scanner.Scan(
		&token.ID, &token.UserID, &token.TokenHash, &token.DeviceName,
		&token.IPAddress, &token.IssuedAt, &token.ExpiresAt, &token.LastUsedAt,
		&token.Revoked, &token.TheftDetected,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &token, nil
}

func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error) {
	token.ID = uuid.New().String()
	token.IssuedAt = time.Now()

	query := `
		INSERT INTO refresh_tokens (id, user_id, token_hash, device_name, ip_address, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		token.ID, token.UserID, token.TokenHash, token.DeviceName,
		token.IPAddress, token.IssuedAt, token.ExpiresAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return token, nil
}

// GetByHash looks up a token record by the hash of its presented value.
// Revoked and expired records are still returned so the caller can
// distinguish reuse of a rotated token from a token that never existed.
func (r *RefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token_hash = $1`
	return scanRefreshTokenRow(r.db.Pool.QueryRow(ctx, query, tokenHash))
}

func (r *RefreshTokenRepository) GetByID(ctx context.Context, id string) (*models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE id = $1`
	return scanRefreshTokenRow(r.db.Pool.QueryRow(ctx, query, id))
}

// Rotate atomically revokes the current token and inserts its successor in
// one transaction. The UPDATE is gated on revoked = false, so of any number
// of concurrent presentations of the same token exactly one observes a row
// change and receives the successor; the rest get rotated = false.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, currentID string, successor *models.RefreshToken) (bool, error) {
	rotated := false

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE refresh_tokens SET revoked = true, last_used_at = NOW()
			WHERE id = $1 AND revoked = false
		`, currentID)
		if err != nil {
			return database.MapPostgresError(err)
		}

		if result.RowsAffected() == 0 {
			// Lost the race: another request rotated this token first.
			return nil
		}

		successor.ID = uuid.New().String()
		successor.IssuedAt = time.Now()

		_, err = tx.Exec(ctx, `
			INSERT INTO refresh_tokens (id, user_id, token_hash, device_name, ip_address, issued_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			successor.ID, successor.UserID, successor.TokenHash, successor.DeviceName,
			successor.IPAddress, successor.IssuedAt, successor.ExpiresAt,
		)
		if err != nil {
			return database.MapPostgresError(err)
		}

		rotated = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	return rotated, nil
}

// FlagTheft marks the reused token and revokes every token belonging to the
// user in a single transaction, collapsing all of the user's sessions.
func (r *RefreshTokenRepository) FlagTheft(ctx context.Context, tokenID, userID string) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE refresh_tokens SET theft_detected = true WHERE id = $1
		`, tokenID)
		if err != nil {
			return database.MapPostgresError(err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE refresh_tokens SET revoked = true WHERE user_id = $1 AND revoked = false
		`, userID)
		if err != nil {
			return database.MapPostgresError(err)
		}

		return nil
	})
}

// Revoke revokes a single token owned by the given user.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id, userID string) error {
	query := `
		UPDATE refresh_tokens SET revoked = true
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

// RevokeAllForUser revokes every active token for a user and returns the
// number of tokens revoked.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	query := `UPDATE refresh_tokens SET revoked = true WHERE user_id = $1 AND revoked = false`

	result, err := r.db.Pool.Exec(ctx, query, userID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}

// RevokeAllForUserExcept revokes every active token for a user except the
// one identified by keepID.
func (r *RefreshTokenRepository) RevokeAllForUserExcept(ctx context.Context, userID, keepID string) (int64, error) {
	query := `
		UPDATE refresh_tokens SET revoked = true
		WHERE user_id = $1 AND id <> $2 AND revoked = false
	`

	result, err := r.db.Pool.Exec(ctx, query, userID, keepID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}

// ListActiveForUser returns the user's unrevoked, unexpired tokens ordered
// newest first. This backs the session listing.
func (r *RefreshTokenRepository) ListActiveForUser(ctx context.Context, userID string) ([]*models.RefreshToken, error) {
	query := `
		SELECT ` + refreshTokenColumns + `
		FROM refresh_tokens
		WHERE user_id = $1 AND revoked = false AND expires_at > NOW()
		ORDER BY issued_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query refresh tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]*models.RefreshToken, 0)
	for rows.Next() {
		token, err := scanRefreshTokenRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refresh token: %w", err)
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return tokens, nil
}

// DeleteExpired removes tokens past their expiry plus a retention window,
// keeping recently expired rows around for reuse detection.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, retention time.Duration) (int64, error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at < $1`

	result, err := r.db.Pool.Exec(ctx, query, time.Now().Add(-retention))
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
