package repositories

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/tmcfarland/docsmith/internal/database"
	"github.com/tmcfarland/docsmith/internal/models"
)

// AccountLockRepository maintains the consecutive-failure counter per
// account, keyed by lowercased email so lockout also covers attempts
// against addresses with no registered user.
type AccountLockRepository struct {
	db *database.DB
}

func NewAccountLockRepository(db *database.DB) *AccountLockRepository {
	return &AccountLockRepository{db: db}
}

// Get returns the lock row for an email, or nil when none exists.
func (r *AccountLockRepository) Get(ctx context.Context, email string) (*models.AccountLock, error) {
	query := `
		SELECT email, user_id, failed_count, locked_until, updated_at
		FROM account_locks WHERE email = $1
	`

	var lock models.AccountLock
	err := r.db.Pool.QueryRow(ctx, query, strings.ToLower(email)).Scan(
		&lock.Email, &lock.UserID, &lock.FailedCount, &lock.LockedUntil, &lock.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &lock, nil
}

// RecordFailure atomically increments the consecutive-failure counter and
// returns the new count. The upsert is a single statement, so concurrent
// failures each observe a distinct count and exactly one of them sees the
// threshold value. A failure after an expired lock restarts the streak at 1.
func (r *AccountLockRepository) RecordFailure(ctx context.Context, email string, userID *string) (int, error) {
	query := `
		INSERT INTO account_locks (email, user_id, failed_count, updated_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (email) DO UPDATE SET
			failed_count = CASE
				WHEN account_locks.locked_until IS NOT NULL AND account_locks.locked_until <= NOW()
				THEN 1
				ELSE account_locks.failed_count + 1
			END,
			locked_until = CASE
				WHEN account_locks.locked_until IS NOT NULL AND account_locks.locked_until <= NOW()
				THEN NULL
				ELSE account_locks.locked_until
			END,
			user_id = COALESCE(EXCLUDED.user_id, account_locks.user_id),
			updated_at = NOW()
		RETURNING failed_count
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, strings.ToLower(email), userID).Scan(&count)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return count, nil
}

// Lock sets the lock expiry for an account.
func (r *AccountLockRepository) Lock(ctx context.Context, email string, until time.Time) error {
	query := `
		UPDATE account_locks SET locked_until = $1, updated_at = NOW()
		WHERE email = $2
	`

	_, err := r.db.Pool.Exec(ctx, query, until, strings.ToLower(email))
	return database.MapPostgresError(err)
}

// Reset clears the counter and any lock after a successful authentication.
func (r *AccountLockRepository) Reset(ctx context.Context, email string) error {
	query := `DELETE FROM account_locks WHERE email = $1`

	_, err := r.db.Pool.Exec(ctx, query, strings.ToLower(email))
	return database.MapPostgresError(err)
}

// DeleteStale removes counter rows that have not been touched within the
// retention window and are not currently locked.
func (r *AccountLockRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM account_locks
		WHERE updated_at < $1 AND (locked_until IS NULL OR locked_until < NOW())
	`

	result, err := r.db.Pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}
