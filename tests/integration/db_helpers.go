package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tmcfarland/docsmith/internal/config"
	"github.com/tmcfarland/docsmith/internal/database"
	"github.com/tmcfarland/docsmith/internal/models"
	pkgauth "github.com/tmcfarland/docsmith/pkg/auth"
)

// TestDB manages the PostgreSQL testcontainer and database handle
type TestDB struct {
	Container testcontainers.Container
	DB        *database.DB
	Pool      *pgxpool.Pool
}

// SetupTestDatabase starts a PostgreSQL container, runs the embedded
// migrations, and returns a connected TestDB.
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("docsmith"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to resolve container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to resolve container port: %w", err)
	}

	dbConfig := &config.DatabaseConfig{
		Host:              host,
		Port:              port.Int(),
		User:              "postgres",
		Password:          "postgres",
		Name:              "docsmith",
		SSLMode:           "disable",
		MaxConns:          5,
		MinConns:          1,
		MaxConnLifetime:   5 * time.Minute,
		MaxConnIdleTime:   time.Minute,
		HealthCheckPeriod: time.Minute,
	}

	if err := database.Migrate(ctx, dbConfig.DSN()); err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := database.NewConnection(dbConfig, quiet)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return &TestDB{Container: container, DB: db, Pool: db.Pool}, nil
}

// Teardown closes the pool and stops the container
func (tdb *TestDB) Teardown(ctx context.Context) error {
	if tdb.DB != nil {
		tdb.DB.Close()
	}
	if tdb.Container != nil {
		return tdb.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation
func (tdb *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"email_verification_tokens",
		"password_reset_tokens",
		"trusted_devices",
		"mfa_backup_codes",
		"mfa_secrets",
		"refresh_tokens",
		"account_locks",
		"login_attempts",
		"users",
		"tenants",
	}

	for _, table := range tables {
		if _, err := tdb.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}
	return nil
}

// SeedTenant inserts a tenant, optionally with a tenant-wide MFA requirement
func (tdb *TestDB) SeedTenant(ctx context.Context, name string, mfaRequired bool) (*models.Tenant, error) {
	query := `
		INSERT INTO tenants (id, name, mfa_required)
		VALUES (gen_random_uuid(), $1, $2)
		RETURNING id, name, mfa_required, created_at, updated_at
	`

	var tenant models.Tenant
	err := tdb.Pool.QueryRow(ctx, query, name, mfaRequired).Scan(
		&tenant.ID, &tenant.Name, &tenant.MFARequired, &tenant.CreatedAt, &tenant.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert tenant: %w", err)
	}
	return &tenant, nil
}

// SeedUserOpts controls the state of a seeded account
type SeedUserOpts struct {
	Email    string
	Password string
	Verified bool
	TenantID *string
}

// SeedUser inserts a user with a hashed password
func (tdb *TestDB) SeedUser(ctx context.Context, opts SeedUserOpts) (*models.User, error) {
	passwordHash, err := pkgauth.HashPassword(opts.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	query := `
		INSERT INTO users (id, email, password_hash, name, email_verified, tenant_id)
		VALUES (gen_random_uuid(), $1, $2, 'Test User', $3, $4)
		RETURNING id, email, password_hash, name, email_verified, mfa_enabled, tenant_id, created_at, updated_at
	`

	var user models.User
	err = tdb.Pool.QueryRow(ctx, query, opts.Email, passwordHash, opts.Verified, opts.TenantID).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Name,
		&user.EmailVerified, &user.MFAEnabled, &user.TenantID,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return &user, nil
}

// SeedEmailVerificationToken creates a pending verification token and returns
// its raw value
func (tdb *TestDB) SeedEmailVerificationToken(ctx context.Context, userID, email string) (string, error) {
	raw, err := pkgauth.GenerateOpaqueToken()
	if err != nil {
		return "", err
	}

	query := `
		INSERT INTO email_verification_tokens (user_id, token_hash, email, expires_at)
		VALUES ($1, $2, $3, NOW() + INTERVAL '24 hours')
	`
	if _, err := tdb.Pool.Exec(ctx, query, userID, pkgauth.HashToken(raw), email); err != nil {
		return "", fmt.Errorf("failed to insert verification token: %w", err)
	}
	return raw, nil
}

// SeedPasswordResetToken creates a redeemable reset token and returns its raw
// value. Pass a negative ttl to seed an already expired token.
func (tdb *TestDB) SeedPasswordResetToken(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	raw, err := pkgauth.GenerateOpaqueToken()
	if err != nil {
		return "", err
	}

	query := `
		INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at)
		VALUES (gen_random_uuid(), $1, $2, $3)
	`
	if _, err := tdb.Pool.Exec(ctx, query, userID, pkgauth.HashToken(raw), time.Now().Add(ttl)); err != nil {
		return "", fmt.Errorf("failed to insert reset token: %w", err)
	}
	return raw, nil
}

// CountActiveSessions returns the number of unrevoked, unexpired refresh
// tokens for a user
func (tdb *TestDB) CountActiveSessions(ctx context.Context, userID string) (int, error) {
	var count int
	err := tdb.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM refresh_tokens WHERE user_id = $1 AND NOT revoked AND expires_at > NOW()`,
		userID,
	).Scan(&count)
	return count, err
}

// CountTrustedDevices returns the number of active trust grants for a user
func (tdb *TestDB) CountTrustedDevices(ctx context.Context, userID string) (int, error) {
	var count int
	err := tdb.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM trusted_devices WHERE user_id = $1 AND NOT revoked AND trusted_until > NOW()`,
		userID,
	).Scan(&count)
	return count, err
}
