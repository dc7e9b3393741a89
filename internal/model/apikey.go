package model

import (
	"time"

	"github.com/google/uuid"
)

// API key scope vocabulary. A nil scope set on a key means all permissions;
// a non-nil set must stay within this vocabulary.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
	ScopeAdmin = "admin"
)

// KnownScopes returns the recognized scope vocabulary.
func KnownScopes() []string {
	return []string{ScopeRead, ScopeWrite, ScopeAdmin}
}

// APIKey is a tenant-scoped machine credential. Only the SHA-256 of the raw
// key is stored; Prefix is the short leading fragment shown in listings so
// operators can tell keys apart.
type APIKey struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	TenantID   int64      `db:"tenant_id" json:"tenant_id"`
	Name       string     `db:"name" json:"name"`
	KeyHash    string     `db:"key_hash" json:"-"`
	Prefix     string     `db:"prefix" json:"prefix"`
	Scopes     []string   `db:"scopes" json:"scopes,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt  *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	RevokedAt  *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
}

// IsValid reports whether the key may authenticate now: not revoked and, if
// an expiry is set, not past it.
func (k *APIKey) IsValid(now time.Time) bool {
	if k.RevokedAt != nil {
		return false
	}
	if k.ExpiresAt != nil && !now.Before(*k.ExpiresAt) {
		return false
	}
	return true
}

// HasScope reports whether the key grants the given scope. A key with no
// explicit scopes grants everything.
func (k *APIKey) HasScope(scope string) bool {
	if k.Scopes == nil {
		return true
	}
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
