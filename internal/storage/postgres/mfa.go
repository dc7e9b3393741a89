package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
)

type mfaRepo struct {
	db DB
}

var _ storage.MFAStore = (*mfaRepo)(nil)

func (r *mfaRepo) UpsertSecret(ctx context.Context, s *model.MFASecret) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	// Re-running setup before activation replaces the pending secret and
	// resets the consumed-window counter.
	const q = `
		INSERT INTO mfa_secrets (user_id, tenant_id, secret, enabled, last_counter, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE
		SET secret = EXCLUDED.secret,
		    enabled = EXCLUDED.enabled,
		    last_counter = EXCLUDED.last_counter`
	_, err := r.db.Exec(ctx, q, s.UserID, s.TenantID, s.Secret, s.Enabled, s.LastCounter, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting mfa secret: %w", err)
	}
	return nil
}

func (r *mfaRepo) GetSecret(ctx context.Context, userID uuid.UUID) (*model.MFASecret, error) {
	const q = `
		SELECT user_id, tenant_id, secret, enabled, last_counter, created_at, last_used_at
		FROM mfa_secrets WHERE user_id = $1`
	var s model.MFASecret
	err := r.db.QueryRow(ctx, q, userID).Scan(
		&s.UserID, &s.TenantID, &s.Secret, &s.Enabled, &s.LastCounter, &s.CreatedAt, &s.LastUsedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &s, nil
}

func (r *mfaRepo) EnableSecret(ctx context.Context, userID uuid.UUID) error {
	const q = `UPDATE mfa_secrets SET enabled = TRUE WHERE user_id = $1`
	tag, err := r.db.Exec(ctx, q, userID)
	if err != nil {
		return fmt.Errorf("enabling mfa secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *mfaRepo) DeleteSecret(ctx context.Context, userID uuid.UUID) error {
	const q = `DELETE FROM mfa_secrets WHERE user_id = $1`
	if _, err := r.db.Exec(ctx, q, userID); err != nil {
		return fmt.Errorf("deleting mfa secret: %w", err)
	}
	return nil
}

// AdvanceCounter only moves forward. The strict inequality is the whole
// replay defense: a code whose window is at or below last_counter fails here
// even though the TOTP math accepted it.
func (r *mfaRepo) AdvanceCounter(ctx context.Context, userID uuid.UUID, counter int64, usedAt time.Time) (bool, error) {
	const q = `
		UPDATE mfa_secrets SET last_counter = $2, last_used_at = $3
		WHERE user_id = $1 AND last_counter < $2`
	tag, err := r.db.Exec(ctx, q, userID, counter, usedAt)
	if err != nil {
		return false, fmt.Errorf("advancing totp counter: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReplaceRecoveryCodes swaps the full set in one statement so a failure can
// never leave a user with a mix of old and new codes.
func (r *mfaRepo) ReplaceRecoveryCodes(ctx context.Context, userID uuid.UUID, tenantID int64, hashes []string) error {
	const q = `
		WITH purged AS (
			DELETE FROM mfa_recovery_codes WHERE user_id = $1
		)
		INSERT INTO mfa_recovery_codes (user_id, tenant_id, code_hash, created_at)
		SELECT $1, $2, unnest($3::text[]), $4`
	_, err := r.db.Exec(ctx, q, userID, tenantID, hashes, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("replacing recovery codes: %w", err)
	}
	return nil
}

func (r *mfaRepo) ListRecoveryCodes(ctx context.Context, userID uuid.UUID) ([]model.MFARecoveryCode, error) {
	const q = `
		SELECT id, user_id, tenant_id, code_hash, created_at, used_at
		FROM mfa_recovery_codes WHERE user_id = $1
		ORDER BY id`
	rows, err := r.db.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("listing recovery codes: %w", err)
	}
	defer rows.Close()

	var codes []model.MFARecoveryCode
	for rows.Next() {
		var c model.MFARecoveryCode
		if err := rows.Scan(&c.ID, &c.UserID, &c.TenantID, &c.CodeHash, &c.CreatedAt, &c.UsedAt); err != nil {
			return nil, err
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

func (r *mfaRepo) ConsumeRecoveryCode(ctx context.Context, id int64, at time.Time) (bool, error) {
	const q = `UPDATE mfa_recovery_codes SET used_at = $2 WHERE id = $1 AND used_at IS NULL`
	tag, err := r.db.Exec(ctx, q, id, at)
	if err != nil {
		return false, fmt.Errorf("consuming recovery code: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
