package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tmcfarland/docsmith/internal/database"
	"github.com/tmcfarland/docsmith/internal/models"
)

// EmailVerificationRepository stores hashed email verification tokens.
type EmailVerificationRepository struct {
	db *database.DB
}

func NewEmailVerificationRepository(db *database.DB) *EmailVerificationRepository {
	return &EmailVerificationRepository{db: db}
}

func (r *EmailVerificationRepository) Create(ctx context.Context, token *models.EmailVerificationToken) (*models.EmailVerificationToken, error) {
	token.ID = uuid.New().String()
	token.CreatedAt = time.Now()

	query := `
		INSERT INTO email_verification_tokens (id, user_id, token_hash, email, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		token.ID, token.UserID, token.TokenHash, token.Email, token.ExpiresAt, token.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return token, nil
}

func (r *EmailVerificationRepository) GetByHash(ctx context.Context, tokenHash string) (*models.EmailVerificationToken, error) {
	query := `
		SELECT id, user_id, token_hash, email, expires_at, used_at, created_at
		FROM email_verification_tokens WHERE token_hash = $1
	`

	var token models.EmailVerificationToken
	err := r.db.Pool.QueryRow(ctx, query, tokenHash).Scan(
		&token.ID, &token.UserID, &token.TokenHash, &token.Email,
		&token.ExpiresAt, &token.UsedAt, &token.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &token, nil
}

// MarkUsed consumes a verification token, single use enforced by the
// used_at IS NULL gate.
func (r *EmailVerificationRepository) MarkUsed(ctx context.Context, id string) error {
	query := `
		UPDATE email_verification_tokens SET used_at = NOW()
		WHERE id = $1 AND used_at IS NULL
	`

	result, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrBadRequest
	}

	return nil
}

// InvalidateAllForUser orphans outstanding verification emails when a new
// one is sent.
func (r *EmailVerificationRepository) InvalidateAllForUser(ctx context.Context, userID string) error {
	query := `
		UPDATE email_verification_tokens SET used_at = NOW()
		WHERE user_id = $1 AND used_at IS NULL
	`

	_, err := r.db.Pool.Exec(ctx, query, userID)
	return database.MapPostgresError(err)
}

// DeleteExpired removes tokens past their expiry.
func (r *EmailVerificationRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM email_verification_tokens WHERE expires_at < NOW()`

	result, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
