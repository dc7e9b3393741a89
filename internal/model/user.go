package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User belongs to exactly one tenant. Email is unique per tenant after
// lowercasing. PasswordHash is an opaque verifier string that carries its
// scheme and parameters in-band ($argon2id$... or $2a$...); the raw password
// is never stored.
type User struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	TenantID          int64      `db:"tenant_id" json:"tenant_id"`
	Email             string     `db:"email" json:"email"`
	PasswordHash      string     `db:"password_hash" json:"-"`
	IsVerified        bool       `db:"is_verified" json:"is_verified"`
	IsActive          bool       `db:"is_active" json:"is_active"`
	IsSuperuser       bool       `db:"is_superuser" json:"is_superuser"`
	MFARequired       bool       `db:"mfa_required" json:"mfa_required"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	LastLoginAt       *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	PasswordChangedAt *time.Time `db:"password_changed_at" json:"-"`
}

// NormalizeEmail lowercases and trims an email for lookup and storage. Every
// path that touches user email goes through this so the unique index and the
// login identifier agree.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
