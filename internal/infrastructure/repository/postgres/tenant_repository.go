package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
)

type TenantRepository struct {
	db *sql.DB
}

func NewTenantRepository(db *sql.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

const tenantColumns = `id, name, embedding_provider, embedding_model, embedding_dimensions, dedicated_collection, active, created_at, updated_at`

func (r *TenantRepository) GetByID(ctx context.Context, id string) (*domain.Tenant, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+tenantColumns+`
FROM tenants
WHERE id = $1
`, id)

	tenant, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrTenantNotFound, "get tenant", fmt.Errorf("id %s", id))
		}
		return nil, err
	}
	return tenant, nil
}

func (r *TenantRepository) ListActive(ctx context.Context) ([]*domain.Tenant, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+tenantColumns+`
FROM tenants
WHERE active = TRUE
ORDER BY created_at ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*domain.Tenant
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenants: %w", err)
	}
	return tenants, nil
}

func (r *TenantRepository) SaveEmbeddingConfig(ctx context.Context, id string, cfg domain.EmbeddingConfig) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE tenants
SET embedding_provider = $2, embedding_model = $3, embedding_dimensions = $4, updated_at = $5
WHERE id = $1
`, id, cfg.Provider, cfg.Model, cfg.Dimensions, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save embedding config: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save config rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrTenantNotFound
	}
	return nil
}

func scanTenant(row rowScanner) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := row.Scan(
		&tenant.ID, &tenant.Name, &tenant.EmbeddingProvider, &tenant.EmbeddingModel,
		&tenant.EmbeddingDimensions, &tenant.DedicatedCollection, &tenant.Active,
		&tenant.CreatedAt, &tenant.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	return &tenant, nil
}
