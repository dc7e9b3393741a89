package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
)

// apiKeyRepo serves two roles: tenant-bound repository (tenantID set) and
// cross-tenant directory for hash lookups (tenantID zero). The tenant-bound
// methods always carry the scope predicate.
type apiKeyRepo struct {
	db       DB
	tenantID int64
}

var (
	_ storage.APIKeyStore     = (*apiKeyRepo)(nil)
	_ storage.APIKeyDirectory = (*apiKeyRepo)(nil)
)

func (r *apiKeyRepo) TenantID() int64 { return r.tenantID }

const apiKeyColumns = `id, tenant_id, name, key_hash, prefix, scopes,
	created_at, expires_at, revoked_at, last_used_at`

func scanAPIKey(row interface{ Scan(...any) error }) (*model.APIKey, error) {
	var k model.APIKey
	err := row.Scan(
		&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.Prefix, &k.Scopes,
		&k.CreatedAt, &k.ExpiresAt, &k.RevokedAt, &k.LastUsedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &k, nil
}

func (r *apiKeyRepo) Create(ctx context.Context, k *model.APIKey) error {
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	k.TenantID = r.tenantID

	const q = `
		INSERT INTO api_keys (id, tenant_id, name, key_hash, prefix, scopes,
			created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.Exec(ctx, q,
		k.ID, r.tenantID, k.Name, k.KeyHash, k.Prefix, k.Scopes, k.CreatedAt, k.ExpiresAt)
	if err != nil {
		return fmt.Errorf("inserting api key: %w", mapError(err))
	}
	return nil
}

func (r *apiKeyRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.APIKey, error) {
	const q = `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = $1 AND tenant_id = $2`
	return scanAPIKey(r.db.QueryRow(ctx, q, id, r.tenantID))
}

// GetByHash is the directory lookup: the presented key identifies the tenant,
// so this is the one read without a scope predicate.
func (r *apiKeyRepo) GetByHash(ctx context.Context, keyHash string) (*model.APIKey, error) {
	const q = `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = $1`
	return scanAPIKey(r.db.QueryRow(ctx, q, keyHash))
}

func (r *apiKeyRepo) List(ctx context.Context) ([]model.APIKey, error) {
	const q = `SELECT ` + apiKeyColumns + `
		FROM api_keys WHERE tenant_id = $1
		ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, q, r.tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()
	return collectAPIKeys(rows)
}

func (r *apiKeyRepo) Paginate(ctx context.Context, page storage.Page) ([]model.APIKey, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	const q = `SELECT ` + apiKeyColumns + `
		FROM api_keys WHERE tenant_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, q, r.tenantID, page.Size, page.Offset())
	if err != nil {
		return nil, fmt.Errorf("paginating api keys: %w", err)
	}
	defer rows.Close()
	return collectAPIKeys(rows)
}

func collectAPIKeys(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]model.APIKey, error) {
	var keys []model.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

func (r *apiKeyRepo) Revoke(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	const q = `
		UPDATE api_keys SET revoked_at = $3
		WHERE id = $1 AND tenant_id = $2 AND revoked_at IS NULL`
	tag, err := r.db.Exec(ctx, q, id, r.tenantID, at)
	if err != nil {
		return false, fmt.Errorf("revoking api key: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *apiKeyRepo) TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`
	if _, err := r.db.Exec(ctx, q, id, at); err != nil {
		return fmt.Errorf("touching api key: %w", err)
	}
	return nil
}
