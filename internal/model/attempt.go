package model

import (
	"fmt"
	"time"
)

// LoginAttempt is an immutable record of one authentication attempt. The
// brute-force windows are counted two ways: by Identifier and by IP.
type LoginAttempt struct {
	ID         int64     `db:"id" json:"id"`
	Identifier string    `db:"identifier" json:"identifier"`
	IP         string    `db:"ip" json:"ip"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	Success    bool      `db:"success" json:"success"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// LoginIdentifier builds the composite attempt identifier. The tenant suffix
// keeps lockouts from leaking across tenants that share an email.
func LoginIdentifier(email string, tenantID int64) string {
	return fmt.Sprintf("%s@tenant:%d", NormalizeEmail(email), tenantID)
}
