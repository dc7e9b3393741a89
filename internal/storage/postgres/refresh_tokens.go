package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
)

type refreshTokenRepo struct {
	db DB
}

var _ storage.RefreshTokenStore = (*refreshTokenRepo)(nil)

const refreshTokenColumns = `jti, session_id, user_id, tenant_id, token_hash,
	expires_at, created_at, used_at, replaced_by_jti`

func scanRefreshToken(row interface{ Scan(...any) error }) (*model.RefreshToken, error) {
	var t model.RefreshToken
	err := row.Scan(
		&t.JTI, &t.SessionID, &t.UserID, &t.TenantID, &t.TokenHash,
		&t.ExpiresAt, &t.CreatedAt, &t.UsedAt, &t.ReplacedByJTI,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &t, nil
}

func (r *refreshTokenRepo) Create(ctx context.Context, t *model.RefreshToken) error {
	const q = `
		INSERT INTO refresh_tokens (jti, session_id, user_id, tenant_id,
			token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.Exec(ctx, q,
		t.JTI, t.SessionID, t.UserID, t.TenantID, t.TokenHash, t.ExpiresAt, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting refresh token: %w", mapError(err))
	}
	return nil
}

func (r *refreshTokenRepo) GetByJTI(ctx context.Context, jti uuid.UUID) (*model.RefreshToken, error) {
	const q = `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE jti = $1`
	return scanRefreshToken(r.db.QueryRow(ctx, q, jti))
}

// MarkUsed is the one-shot transition behind replay detection. The predicate
// used_at IS NULL makes concurrent callers race on the row: exactly one sees
// RowsAffected = 1, every other sees 0 and must treat the token as replayed.
// Executed as its own statement, so the marker is committed and visible
// before the caller issues the replacement token.
func (r *refreshTokenRepo) MarkUsed(ctx context.Context, jti uuid.UUID, at time.Time, replacedBy *uuid.UUID) (bool, error) {
	const q = `
		UPDATE refresh_tokens SET used_at = $2, replaced_by_jti = $3
		WHERE jti = $1 AND used_at IS NULL`
	tag, err := r.db.Exec(ctx, q, jti, at, replacedBy)
	if err != nil {
		return false, fmt.Errorf("marking token used: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *refreshTokenRepo) MarkAllUsedForUser(ctx context.Context, userID uuid.UUID, at time.Time) ([]model.RefreshToken, error) {
	const q = `
		UPDATE refresh_tokens SET used_at = $2
		WHERE user_id = $1 AND used_at IS NULL
		RETURNING ` + refreshTokenColumns
	rows, err := r.db.Query(ctx, q, userID, at)
	if err != nil {
		return nil, fmt.Errorf("marking user tokens used: %w", err)
	}
	defer rows.Close()

	var tokens []model.RefreshToken
	for rows.Next() {
		t, err := scanRefreshToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, *t)
	}
	return tokens, rows.Err()
}

func (r *refreshTokenRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM refresh_tokens WHERE expires_at < $1`
	tag, err := r.db.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting expired refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
