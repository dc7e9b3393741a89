package model

import (
	"time"

	"github.com/google/uuid"
)

// PasswordResetToken is single-use and hour-bounded. Only the SHA-256 of the
// raw token is stored; the raw token travels to the user by email exactly
// once.
type PasswordResetToken struct {
	ID        int64      `db:"id" json:"id"`
	UserID    uuid.UUID  `db:"user_id" json:"user_id"`
	TenantID  int64      `db:"tenant_id" json:"tenant_id"`
	TokenHash string     `db:"token_hash" json:"-"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UsedAt    *time.Time `db:"used_at" json:"used_at,omitempty"`
}

// IsUsable reports whether the token can still be consumed.
func (t *PasswordResetToken) IsUsable(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}

// EmailVerificationToken proves ownership of a registered address. Same
// at-rest discipline as reset tokens, 24-hour lifetime.
type EmailVerificationToken struct {
	ID        int64      `db:"id" json:"id"`
	UserID    uuid.UUID  `db:"user_id" json:"user_id"`
	TenantID  int64      `db:"tenant_id" json:"tenant_id"`
	TokenHash string     `db:"token_hash" json:"-"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UsedAt    *time.Time `db:"used_at" json:"used_at,omitempty"`
}

// IsUsable reports whether the token can still be consumed.
func (t *EmailVerificationToken) IsUsable(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}
