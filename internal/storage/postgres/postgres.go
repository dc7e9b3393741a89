// Package postgres implements the storage contracts over a pgx pool. Queries
// are hand-written; each repository bakes its tenant scope into the SQL so a
// caller cannot reach another tenant's rows through any method.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/comptoirhq/identity/internal/storage"
)

// DB is the subset of pgx shared by *pgxpool.Pool and pgx.Tx. Repositories
// run over it so the same code serves pooled calls and RLS transactions.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements storage.Bundle over PostgreSQL.
type Store struct {
	db   DB
	pool *pgxpool.Pool
}

var _ storage.Bundle = (*Store)(nil)

// New connects a pool and verifies it with a ping.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parsing dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connecting: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &Store{db: pool, pool: pool}, nil
}

// Pool exposes the underlying pool for health checks and the audit recorder.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases the pool. Safe to call on transaction-scoped stores, where
// it is a no-op.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Tenants() storage.TenantStore             { return &tenantRepo{db: s.db} }
func (s *Store) Users(tenantID int64) storage.UserStore   { return &userRepo{db: s.db, tenantID: tenantID} }
func (s *Store) Sessions() storage.SessionStore           { return &sessionRepo{db: s.db} }
func (s *Store) RefreshTokens() storage.RefreshTokenStore { return &refreshTokenRepo{db: s.db} }
func (s *Store) RevokedTokens() storage.RevokedTokenStore { return &revokedTokenRepo{db: s.db} }
func (s *Store) LoginAttempts() storage.LoginAttemptStore { return &loginAttemptRepo{db: s.db} }
func (s *Store) MFA() storage.MFAStore                    { return &mfaRepo{db: s.db} }
func (s *Store) APIKeys(tenantID int64) storage.APIKeyStore {
	return &apiKeyRepo{db: s.db, tenantID: tenantID}
}
func (s *Store) APIKeyDirectory() storage.APIKeyDirectory { return &apiKeyRepo{db: s.db} }
func (s *Store) PasswordResets() storage.PasswordResetStore {
	return &passwordResetRepo{db: s.db}
}
func (s *Store) EmailVerifications() storage.EmailVerificationStore {
	return &emailVerificationRepo{db: s.db}
}
func (s *Store) Audit() storage.AuditStore { return &auditRepo{db: s.db} }

// mapError converts pgx-level errors to the storage sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return storage.ErrDuplicate
	}
	return err
}
