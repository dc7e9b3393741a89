package model

import (
	"time"

	"github.com/google/uuid"
)

// Session is an authenticated presence of a user. AbsoluteExpiry is set once
// at creation and never moves; it is the hard ceiling for every refresh token
// derived from the session, no matter how many rotations happen.
type Session struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	UserID         uuid.UUID  `db:"user_id" json:"user_id"`
	TenantID       int64      `db:"tenant_id" json:"tenant_id"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	LastSeenAt     time.Time  `db:"last_seen_at" json:"last_seen_at"`
	IP             string     `db:"ip" json:"ip,omitempty"`
	UserAgent      string     `db:"user_agent" json:"user_agent,omitempty"`
	RevokedAt      *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	AbsoluteExpiry time.Time  `db:"absolute_expiry" json:"absolute_expiry"`
}

// IsActive reports whether the session can still back credentials: not
// revoked and not past its absolute expiry.
func (s *Session) IsActive(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.AbsoluteExpiry)
}
