package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/storage"
)

type revokedTokenRepo struct {
	db DB
}

var _ storage.RevokedTokenStore = (*revokedTokenRepo)(nil)

// Add is idempotent: revoking the same jti twice must not error, so the
// insert swallows the conflict.
func (r *revokedTokenRepo) Add(ctx context.Context, jti uuid.UUID, expiresAt time.Time) error {
	const q = `
		INSERT INTO revoked_tokens (jti, expires_at, revoked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (jti) DO NOTHING`
	_, err := r.db.Exec(ctx, q, jti, expiresAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("blacklisting token: %w", err)
	}
	return nil
}

func (r *revokedTokenRepo) IsRevoked(ctx context.Context, jti uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = $1)`
	var revoked bool
	if err := r.db.QueryRow(ctx, q, jti).Scan(&revoked); err != nil {
		return false, fmt.Errorf("checking blacklist: %w", err)
	}
	return revoked, nil
}

// PurgeExpired drops entries whose token would have expired anyway; keeping
// them adds nothing since the expiry check already rejects those tokens.
func (r *revokedTokenRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `DELETE FROM revoked_tokens WHERE expires_at < $1`
	tag, err := r.db.Exec(ctx, q, now)
	if err != nil {
		return 0, fmt.Errorf("purging blacklist: %w", err)
	}
	return tag.RowsAffected(), nil
}
