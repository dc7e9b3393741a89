package model

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is the persisted side of a refresh credential, keyed by jti.
// Only the SHA-256 of the raw token is stored. UsedAt transitions from null
// to a timestamp exactly once; any presentation after that is a replay.
type RefreshToken struct {
	JTI           uuid.UUID  `db:"jti" json:"jti"`
	SessionID     uuid.UUID  `db:"session_id" json:"session_id"`
	UserID        uuid.UUID  `db:"user_id" json:"user_id"`
	TenantID      int64      `db:"tenant_id" json:"tenant_id"`
	TokenHash     string     `db:"token_hash" json:"-"`
	ExpiresAt     time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UsedAt        *time.Time `db:"used_at" json:"used_at,omitempty"`
	ReplacedByJTI *uuid.UUID `db:"replaced_by_jti" json:"replaced_by_jti,omitempty"`
}

// IsExpired reports whether the token is past its expiry.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsUsed reports whether the token has already been consumed.
func (t *RefreshToken) IsUsed() bool {
	return t.UsedAt != nil
}

// RevokedToken is a blacklist entry. ExpiresAt copies the token's original
// expiry so the row can be purged once the token would have died anyway.
type RevokedToken struct {
	JTI       uuid.UUID `db:"jti" json:"jti"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	RevokedAt time.Time `db:"revoked_at" json:"revoked_at"`
}
