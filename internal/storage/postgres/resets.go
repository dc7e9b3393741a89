package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
)

type passwordResetRepo struct {
	db DB
}

var _ storage.PasswordResetStore = (*passwordResetRepo)(nil)

func (r *passwordResetRepo) Create(ctx context.Context, t *model.PasswordResetToken) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	const q = `
		INSERT INTO password_reset_tokens (user_id, tenant_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	err := r.db.QueryRow(ctx, q, t.UserID, t.TenantID, t.TokenHash, t.ExpiresAt, t.CreatedAt).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("inserting reset token: %w", err)
	}
	return nil
}

func (r *passwordResetRepo) GetByHash(ctx context.Context, tokenHash string) (*model.PasswordResetToken, error) {
	const q = `
		SELECT id, user_id, tenant_id, token_hash, expires_at, created_at, used_at
		FROM password_reset_tokens WHERE token_hash = $1`
	var t model.PasswordResetToken
	err := r.db.QueryRow(ctx, q, tokenHash).Scan(
		&t.ID, &t.UserID, &t.TenantID, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt, &t.UsedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &t, nil
}

func (r *passwordResetRepo) MarkUsed(ctx context.Context, id int64, at time.Time) (bool, error) {
	const q = `UPDATE password_reset_tokens SET used_at = $2 WHERE id = $1 AND used_at IS NULL`
	tag, err := r.db.Exec(ctx, q, id, at)
	if err != nil {
		return false, fmt.Errorf("consuming reset token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *passwordResetRepo) InvalidateAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	const q = `UPDATE password_reset_tokens SET used_at = $2 WHERE user_id = $1 AND used_at IS NULL`
	tag, err := r.db.Exec(ctx, q, userID, at)
	if err != nil {
		return 0, fmt.Errorf("invalidating reset tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *passwordResetRepo) CountRecentForUser(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error) {
	const q = `SELECT COUNT(*) FROM password_reset_tokens WHERE user_id = $1 AND created_at > $2`
	var n int64
	if err := r.db.QueryRow(ctx, q, userID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting reset requests: %w", err)
	}
	return n, nil
}

func (r *passwordResetRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM password_reset_tokens WHERE expires_at < $1`
	tag, err := r.db.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting expired reset tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

type emailVerificationRepo struct {
	db DB
}

var _ storage.EmailVerificationStore = (*emailVerificationRepo)(nil)

func (r *emailVerificationRepo) Create(ctx context.Context, t *model.EmailVerificationToken) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	const q = `
		INSERT INTO email_verification_tokens (user_id, tenant_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	err := r.db.QueryRow(ctx, q, t.UserID, t.TenantID, t.TokenHash, t.ExpiresAt, t.CreatedAt).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("inserting verification token: %w", err)
	}
	return nil
}

func (r *emailVerificationRepo) GetByHash(ctx context.Context, tokenHash string) (*model.EmailVerificationToken, error) {
	const q = `
		SELECT id, user_id, tenant_id, token_hash, expires_at, created_at, used_at
		FROM email_verification_tokens WHERE token_hash = $1`
	var t model.EmailVerificationToken
	err := r.db.QueryRow(ctx, q, tokenHash).Scan(
		&t.ID, &t.UserID, &t.TenantID, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt, &t.UsedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &t, nil
}

func (r *emailVerificationRepo) MarkUsed(ctx context.Context, id int64, at time.Time) (bool, error) {
	const q = `UPDATE email_verification_tokens SET used_at = $2 WHERE id = $1 AND used_at IS NULL`
	tag, err := r.db.Exec(ctx, q, id, at)
	if err != nil {
		return false, fmt.Errorf("consuming verification token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *emailVerificationRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM email_verification_tokens WHERE expires_at < $1`
	tag, err := r.db.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting expired verification tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
