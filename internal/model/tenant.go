// Package model holds the persistent entities of the identity core. Every
// tenant-owned entity carries a tenant_id that is fixed at creation; the
// storage layer enforces that it never changes afterwards.
package model

import "time"

// Tenant is the root of every ownership chain. Tenant IDs are integers
// because they travel in the X-Tenant-ID header and the tenant_id JWT claim.
type Tenant struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
