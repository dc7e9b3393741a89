package model

import (
	"time"

	"github.com/google/uuid"
)

// MFASecret is the TOTP state for one user. Secret is stored sealed (AES-GCM)
// because TOTP verification needs the plaintext back, unlike passwords.
// LastCounter is the highest time-step counter already consumed; accepting a
// code raises it so the same 6-digit code can never verify twice.
type MFASecret struct {
	UserID      uuid.UUID  `db:"user_id" json:"user_id"`
	TenantID    int64      `db:"tenant_id" json:"tenant_id"`
	Secret      string     `db:"secret" json:"-"`
	Enabled     bool       `db:"enabled" json:"enabled"`
	LastCounter int64      `db:"last_counter" json:"-"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	LastUsedAt  *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
}

// MFARecoveryCode is one of the ten single-use fallback codes handed out at
// MFA activation. Only the hash survives.
type MFARecoveryCode struct {
	ID        int64      `db:"id" json:"id"`
	UserID    uuid.UUID  `db:"user_id" json:"user_id"`
	TenantID  int64      `db:"tenant_id" json:"tenant_id"`
	CodeHash  string     `db:"code_hash" json:"-"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UsedAt    *time.Time `db:"used_at" json:"used_at,omitempty"`
}
