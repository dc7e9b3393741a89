package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
)

type sessionRepo struct {
	db DB
}

var _ storage.SessionStore = (*sessionRepo)(nil)

const sessionColumns = `id, user_id, tenant_id, created_at, last_seen_at, ip,
	user_agent, revoked_at, absolute_expiry`

func scanSession(row interface{ Scan(...any) error }) (*model.Session, error) {
	var s model.Session
	err := row.Scan(
		&s.ID, &s.UserID, &s.TenantID, &s.CreatedAt, &s.LastSeenAt, &s.IP,
		&s.UserAgent, &s.RevokedAt, &s.AbsoluteExpiry,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &s, nil
}

func (r *sessionRepo) Create(ctx context.Context, s *model.Session) error {
	const q = `
		INSERT INTO sessions (id, user_id, tenant_id, created_at, last_seen_at,
			ip, user_agent, absolute_expiry)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.Exec(ctx, q,
		s.ID, s.UserID, s.TenantID, s.CreatedAt, s.LastSeenAt,
		s.IP, s.UserAgent, s.AbsoluteExpiry)
	if err != nil {
		return fmt.Errorf("inserting session: %w", mapError(err))
	}
	return nil
}

func (r *sessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSession(r.db.QueryRow(ctx, q, id))
}

// GetForUser matches id and owner in one predicate. Absent and not-owned are
// the same ErrNotFound so a probe learns nothing.
func (r *sessionRepo) GetForUser(ctx context.Context, id, userID uuid.UUID) (*model.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 AND user_id = $2`
	return scanSession(r.db.QueryRow(ctx, q, id, userID))
}

func (r *sessionRepo) ListActiveForUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]model.Session, error) {
	const q = `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND absolute_expiry > $2
		ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, q, userID, now)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func (r *sessionRepo) CountActiveForUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	const q = `
		SELECT COUNT(*) FROM sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND absolute_expiry > $2`
	var n int64
	if err := r.db.QueryRow(ctx, q, userID, now).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	return n, nil
}

func (r *sessionRepo) OldestActiveForUser(ctx context.Context, userID uuid.UUID, now time.Time) (*model.Session, error) {
	const q = `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND absolute_expiry > $2
		ORDER BY created_at ASC
		LIMIT 1`
	return scanSession(r.db.QueryRow(ctx, q, userID, now))
}

func (r *sessionRepo) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE sessions SET last_seen_at = $2 WHERE id = $1`
	_, err := r.db.Exec(ctx, q, id, at)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

func (r *sessionRepo) RevokeForUser(ctx context.Context, id, userID uuid.UUID, at time.Time) (bool, error) {
	const q = `
		UPDATE sessions SET revoked_at = $3
		WHERE id = $1 AND user_id = $2 AND revoked_at IS NULL`
	tag, err := r.db.Exec(ctx, q, id, userID, at)
	if err != nil {
		return false, fmt.Errorf("revoking session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *sessionRepo) Revoke(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	const q = `UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`
	tag, err := r.db.Exec(ctx, q, id, at)
	if err != nil {
		return false, fmt.Errorf("revoking session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *sessionRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, except *uuid.UUID, at time.Time) (int64, error) {
	const q = `
		UPDATE sessions SET revoked_at = $3
		WHERE user_id = $1 AND revoked_at IS NULL
		  AND ($2::uuid IS NULL OR id <> $2)`
	tag, err := r.db.Exec(ctx, q, userID, except, at)
	if err != nil {
		return 0, fmt.Errorf("revoking user sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *sessionRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM sessions WHERE absolute_expiry < $1`
	tag, err := r.db.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
