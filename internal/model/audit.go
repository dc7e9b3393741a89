package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditEvent is one immutable line in the security trail. ActorID is nil for
// anonymous events such as failed logins against unknown accounts. Sensitive
// events (replay detection, mass revocation, MFA changes) are flagged so
// retention can treat them differently.
type AuditEvent struct {
	ID        int64          `db:"id" json:"id"`
	TenantID  int64          `db:"tenant_id" json:"tenant_id"`
	ActorID   *uuid.UUID     `db:"actor_id" json:"actor_id,omitempty"`
	SessionID *uuid.UUID     `db:"session_id" json:"session_id,omitempty"`
	Action    string         `db:"action" json:"action"`
	Success   bool           `db:"success" json:"success"`
	Sensitive bool           `db:"sensitive" json:"sensitive"`
	IP        string         `db:"ip" json:"ip,omitempty"`
	UserAgent string         `db:"user_agent" json:"user_agent,omitempty"`
	Details   map[string]any `db:"details" json:"details,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}
