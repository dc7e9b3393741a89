package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
)

// userRepo is bound to one tenant. Every query carries the scope predicate
// and every write uses the bound tenant, not the caller's struct field.
type userRepo struct {
	db       DB
	tenantID int64
}

var _ storage.UserStore = (*userRepo)(nil)

func (r *userRepo) TenantID() int64 { return r.tenantID }

const userColumns = `id, tenant_id, email, password_hash, is_verified, is_active,
	is_superuser, mfa_required, created_at, last_login_at, password_changed_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID, &u.TenantID, &u.Email, &u.PasswordHash, &u.IsVerified, &u.IsActive,
		&u.IsSuperuser, &u.MFARequired, &u.CreatedAt, &u.LastLoginAt, &u.PasswordChangedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

func (r *userRepo) Create(ctx context.Context, u *model.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.TenantID = r.tenantID
	u.Email = model.NormalizeEmail(u.Email)

	const q = `
		INSERT INTO users (id, tenant_id, email, password_hash, is_verified,
			is_active, is_superuser, mfa_required, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.Exec(ctx, q,
		u.ID, r.tenantID, u.Email, u.PasswordHash, u.IsVerified,
		u.IsActive, u.IsSuperuser, u.MFARequired, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting user: %w", mapError(err))
	}
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND tenant_id = $2`
	return scanUser(r.db.QueryRow(ctx, q, id, r.tenantID))
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE tenant_id = $1 AND email = $2`
	return scanUser(r.db.QueryRow(ctx, q, r.tenantID, model.NormalizeEmail(email)))
}

func (r *userRepo) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string, changedAt time.Time) error {
	const q = `
		UPDATE users SET password_hash = $3, password_changed_at = $4
		WHERE id = $1 AND tenant_id = $2`
	tag, err := r.db.Exec(ctx, q, id, r.tenantID, hash, changedAt)
	if err != nil {
		return fmt.Errorf("updating password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *userRepo) MarkVerified(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE users SET is_verified = TRUE WHERE id = $1 AND tenant_id = $2`
	tag, err := r.db.Exec(ctx, q, id, r.tenantID)
	if err != nil {
		return fmt.Errorf("marking user verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *userRepo) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE users SET last_login_at = $3 WHERE id = $1 AND tenant_id = $2`
	_, err := r.db.Exec(ctx, q, id, r.tenantID, at)
	if err != nil {
		return fmt.Errorf("touching last login: %w", err)
	}
	return nil
}

func (r *userRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	const q = `UPDATE users SET is_active = $3 WHERE id = $1 AND tenant_id = $2`
	tag, err := r.db.Exec(ctx, q, id, r.tenantID, active)
	if err != nil {
		return fmt.Errorf("setting user active flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *userRepo) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND tenant_id = $2)`
	var exists bool
	if err := r.db.QueryRow(ctx, q, id, r.tenantID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking user existence: %w", err)
	}
	return exists, nil
}

func (r *userRepo) Count(ctx context.Context) (int64, error) {
	const q = `SELECT COUNT(*) FROM users WHERE tenant_id = $1`
	var n int64
	if err := r.db.QueryRow(ctx, q, r.tenantID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

func (r *userRepo) Paginate(ctx context.Context, page storage.Page) ([]model.User, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}

	const q = `SELECT ` + userColumns + `
		FROM users WHERE tenant_id = $1
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, q, r.tenantID, page.Size, page.Offset())
	if err != nil {
		return nil, fmt.Errorf("paginating users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}
