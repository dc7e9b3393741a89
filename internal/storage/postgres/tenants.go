package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
)

type tenantRepo struct {
	db DB
}

var _ storage.TenantStore = (*tenantRepo)(nil)

func (r *tenantRepo) Create(ctx context.Context, t *model.Tenant) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	const q = `
		INSERT INTO tenants (name, is_active, created_at)
		VALUES ($1, $2, $3)
		RETURNING id`
	if err := r.db.QueryRow(ctx, q, t.Name, t.IsActive, t.CreatedAt).Scan(&t.ID); err != nil {
		return fmt.Errorf("inserting tenant: %w", mapError(err))
	}
	return nil
}

func (r *tenantRepo) GetByID(ctx context.Context, id int64) (*model.Tenant, error) {
	const q = `SELECT id, name, is_active, created_at FROM tenants WHERE id = $1`
	var t model.Tenant
	if err := r.db.QueryRow(ctx, q, id).Scan(&t.ID, &t.Name, &t.IsActive, &t.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	return &t, nil
}

func (r *tenantRepo) List(ctx context.Context) ([]model.Tenant, error) {
	const q = `SELECT id, name, is_active, created_at FROM tenants ORDER BY id`
	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var tenants []model.Tenant
	for rows.Next() {
		var t model.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.IsActive, &t.CreatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}
