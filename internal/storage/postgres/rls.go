package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/storage"
)

// WithTenant runs fn against a Bundle whose queries execute inside one
// transaction with app.current_tenant_id and app.current_user_id set. The
// row-level-security policies installed by the migrations key on those
// variables, so even a repository bug cannot read across the tenant boundary.
// SET LOCAL scope means the variables die with the transaction.
func (s *Store) WithTenant(ctx context.Context, tenantID int64, userID uuid.UUID, fn func(storage.Bundle) error) error {
	if s.pool == nil {
		return fmt.Errorf("postgres: WithTenant requires a pooled store")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`SELECT set_config('app.current_tenant_id', $1, true),
		        set_config('app.current_user_id', $2, true)`,
		strconv.FormatInt(tenantID, 10), userID.String())
	if err != nil {
		return fmt.Errorf("postgres: setting tenant context: %w", err)
	}

	if err := fn(&Store{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// WithTx runs fn against a transaction-scoped Bundle without touching the RLS
// variables. For system paths that legitimately cross tenants: the janitor,
// the audit trail, replay mass-revocation.
func (s *Store) WithTx(ctx context.Context, fn func(storage.Bundle) error) error {
	if s.pool == nil {
		return fmt.Errorf("postgres: WithTx requires a pooled store")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Store{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}
