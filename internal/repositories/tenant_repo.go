package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tmcfarland/docsmith/internal/database"
	"github.com/tmcfarland/docsmith/internal/models"
)

type TenantRepository struct {
	db *database.DB
}

func NewTenantRepository(db *database.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

func (r *TenantRepository) Create(ctx context.Context, tenant *models.Tenant) (*models.Tenant, error) {
	tenant.ID = uuid.New().String()

	now := time.Now()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now

	query := `
		INSERT INTO tenants (id, name, mfa_required, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		tenant.ID, tenant.Name, tenant.MFARequired, tenant.CreatedAt, tenant.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return tenant, nil
}

func (r *TenantRepository) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	query := `
		SELECT id, name, mfa_required, created_at, updated_at
		FROM tenants WHERE id = $1
	`

	var tenant models.Tenant
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&tenant.ID, &tenant.Name, &tenant.MFARequired, &tenant.CreatedAt, &tenant.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &tenant, nil
}

func (r *TenantRepository) SetMFARequired(ctx context.Context, id string, required bool) error {
	query := `UPDATE tenants SET mfa_required = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.Pool.Exec(ctx, query, required, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
