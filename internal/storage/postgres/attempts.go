package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
)

type loginAttemptRepo struct {
	db DB
}

var _ storage.LoginAttemptStore = (*loginAttemptRepo)(nil)

func (r *loginAttemptRepo) Record(ctx context.Context, a *model.LoginAttempt) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	const q = `
		INSERT INTO login_attempts (identifier, ip, user_agent, success, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	if err := r.db.QueryRow(ctx, q, a.Identifier, a.IP, a.UserAgent, a.Success, a.CreatedAt).Scan(&a.ID); err != nil {
		return fmt.Errorf("recording login attempt: %w", err)
	}
	return nil
}

func (r *loginAttemptRepo) CountFailuresByIdentifier(ctx context.Context, identifier string, since time.Time) (int64, error) {
	const q = `
		SELECT COUNT(*) FROM login_attempts
		WHERE identifier = $1 AND success = FALSE AND created_at > $2`
	var n int64
	if err := r.db.QueryRow(ctx, q, identifier, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting failures by identifier: %w", err)
	}
	return n, nil
}

func (r *loginAttemptRepo) CountFailuresByIP(ctx context.Context, ip string, since time.Time) (int64, error) {
	const q = `
		SELECT COUNT(*) FROM login_attempts
		WHERE ip = $1 AND success = FALSE AND created_at > $2`
	var n int64
	if err := r.db.QueryRow(ctx, q, ip, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting failures by ip: %w", err)
	}
	return n, nil
}

func (r *loginAttemptRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM login_attempts WHERE created_at < $1`
	tag, err := r.db.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning login attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}
