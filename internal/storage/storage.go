// Package storage declares the persistence contracts of the identity core.
// Implementations live in the postgres, memory and redisstore subpackages.
//
// Two access patterns coexist. Tenant-owned collections (users, API keys,
// audit) are reached through repositories bound to a tenant at construction:
// reads behave as if other tenants' rows do not exist, and writes force the
// tenant attribute to the bound scope no matter what the caller supplied.
// Credential rows (sessions, refresh tokens) are keyed by unguessable UUIDs
// and expose ownership-paired operations instead, so lookups cannot be used
// to probe for other users' resources.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/apperr"
	"github.com/comptoirhq/identity/internal/model"
)

// ErrNotFound is returned for rows that do not exist in the caller's scope.
// Not-owned rows produce the same error as absent ones.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicate is returned on unique-constraint violations, such as a second
// user with the same email inside one tenant.
var ErrDuplicate = errors.New("storage: duplicate")

// MaxPageSize is the hard ceiling on page sizes across every repository.
const MaxPageSize = 100

// Page is a validated pagination request.
type Page struct {
	Number int
	Size   int
}

// Validate enforces the pagination contract shared by all repositories.
func (p Page) Validate() error {
	if p.Number < 1 {
		return apperr.Validation("page must be >= 1")
	}
	if p.Size < 1 {
		return apperr.Validation("page size must be >= 1")
	}
	if p.Size > MaxPageSize {
		return apperr.Validation("page size exceeds the maximum of 100")
	}
	return nil
}

// Offset returns the row offset for the page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// TenantStore manages tenants themselves. Not tenant-scoped: it is the root
// the scoping hangs off.
type TenantStore interface {
	Create(ctx context.Context, t *model.Tenant) error
	GetByID(ctx context.Context, id int64) (*model.Tenant, error)
	List(ctx context.Context) ([]model.Tenant, error)
}

// UserStore is bound to one tenant for its whole lifetime.
type UserStore interface {
	// TenantID reports the bound scope.
	TenantID() int64

	// Create inserts the user with tenant_id forced to the bound scope.
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByEmail looks up by normalized email within the bound tenant.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string, changedAt time.Time) error
	MarkVerified(ctx context.Context, id uuid.UUID) error
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error

	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	Count(ctx context.Context) (int64, error)
	Paginate(ctx context.Context, page Page) ([]model.User, error)
}

// SessionStore persists sessions. Ownership-sensitive operations take the
// session id and the acting user id together; a session that exists but
// belongs to someone else is reported exactly like one that does not exist.
type SessionStore interface {
	Create(ctx context.Context, s *model.Session) error
	// GetByID is for internal flows that derive the session id from a token
	// the caller already proved possession of.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Session, error)
	// GetForUser is the IDOR-safe variant used by user-facing lookups.
	GetForUser(ctx context.Context, id, userID uuid.UUID) (*model.Session, error)

	ListActiveForUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]model.Session, error)
	CountActiveForUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
	OldestActiveForUser(ctx context.Context, userID uuid.UUID, now time.Time) (*model.Session, error)

	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
	// RevokeForUser terminates the session only when it is owned by userID
	// and not yet revoked; it reports whether a revocation happened.
	RevokeForUser(ctx context.Context, id, userID uuid.UUID, at time.Time) (bool, error)
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	// RevokeAllForUser terminates every active session of the user except an
	// optional survivor and returns the count terminated.
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, except *uuid.UUID, at time.Time) (int64, error)

	// DeleteExpiredBefore removes sessions whose absolute expiry passed
	// before the cutoff. Janitor use.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RefreshTokenStore persists hashed refresh tokens keyed by jti.
type RefreshTokenStore interface {
	Create(ctx context.Context, t *model.RefreshToken) error
	GetByJTI(ctx context.Context, jti uuid.UUID) (*model.RefreshToken, error)

	// MarkUsed performs the one-shot transition used_at: null -> at. It only
	// succeeds when used_at is still null and reports whether this call won;
	// a false return with no error means the token was already consumed.
	// The write is durable before the method returns.
	MarkUsed(ctx context.Context, jti uuid.UUID, at time.Time, replacedBy *uuid.UUID) (bool, error)
	// MarkAllUsedForUser consumes every live token of the user, returning
	// the affected tokens so callers can blacklist them.
	MarkAllUsedForUser(ctx context.Context, userID uuid.UUID, at time.Time) ([]model.RefreshToken, error)

	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RevokedTokenStore is the jti blacklist. Adding an existing jti is not an
// error; the blacklist only grows until purged.
type RevokedTokenStore interface {
	Add(ctx context.Context, jti uuid.UUID, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti uuid.UUID) (bool, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// LoginAttemptStore records authentication attempts and answers the
// brute-force window questions. Identifiers already embed the tenant, so the
// store itself is not tenant-bound.
type LoginAttemptStore interface {
	Record(ctx context.Context, a *model.LoginAttempt) error
	CountFailuresByIdentifier(ctx context.Context, identifier string, since time.Time) (int64, error)
	CountFailuresByIP(ctx context.Context, ip string, since time.Time) (int64, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MFAStore persists TOTP secrets and recovery codes.
type MFAStore interface {
	UpsertSecret(ctx context.Context, s *model.MFASecret) error
	GetSecret(ctx context.Context, userID uuid.UUID) (*model.MFASecret, error)
	EnableSecret(ctx context.Context, userID uuid.UUID) error
	DeleteSecret(ctx context.Context, userID uuid.UUID) error
	// AdvanceCounter raises last_counter to counter only when counter is
	// strictly greater than the stored value and reports whether it moved.
	// A false return means the time window was already consumed.
	AdvanceCounter(ctx context.Context, userID uuid.UUID, counter int64, usedAt time.Time) (bool, error)

	ReplaceRecoveryCodes(ctx context.Context, userID uuid.UUID, tenantID int64, hashes []string) error
	ListRecoveryCodes(ctx context.Context, userID uuid.UUID) ([]model.MFARecoveryCode, error)
	// ConsumeRecoveryCode marks one code used if it still is unused.
	ConsumeRecoveryCode(ctx context.Context, id int64, at time.Time) (bool, error)
}

// APIKeyStore is bound to one tenant, like UserStore.
type APIKeyStore interface {
	TenantID() int64

	Create(ctx context.Context, k *model.APIKey) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.APIKey, error)
	List(ctx context.Context) ([]model.APIKey, error)
	Paginate(ctx context.Context, page Page) ([]model.APIKey, error)
	// Revoke reports whether the key transitioned to revoked; revoking an
	// already-revoked key returns false with no error.
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error
}

// APIKeyDirectory resolves presented keys across tenants. Validation cannot
// be tenant-bound because the key itself identifies the tenant.
type APIKeyDirectory interface {
	GetByHash(ctx context.Context, keyHash string) (*model.APIKey, error)
}

// PasswordResetStore persists hashed single-use reset tokens.
type PasswordResetStore interface {
	Create(ctx context.Context, t *model.PasswordResetToken) error
	GetByHash(ctx context.Context, tokenHash string) (*model.PasswordResetToken, error)
	MarkUsed(ctx context.Context, id int64, at time.Time) (bool, error)
	InvalidateAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error)
	CountRecentForUser(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// EmailVerificationStore persists hashed verification tokens.
type EmailVerificationStore interface {
	Create(ctx context.Context, t *model.EmailVerificationToken) error
	GetByHash(ctx context.Context, tokenHash string) (*model.EmailVerificationToken, error)
	MarkUsed(ctx context.Context, id int64, at time.Time) (bool, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditStore persists the security trail. Events are append-only; the only
// delete is the janitor's retention sweep, which never touches sensitive
// events.
type AuditStore interface {
	Record(ctx context.Context, e *model.AuditEvent) error
	ListForTenant(ctx context.Context, tenantID int64, page Page) ([]model.AuditEvent, error)
	CountForTenant(ctx context.Context, tenantID int64) (int64, error)
	DeleteNonSensitiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Bundle is the factory handed to services. Tenant-scoped repositories are
// constructed per call so the scope can come from the request; the rest are
// process-lifetime.
type Bundle interface {
	Tenants() TenantStore
	Users(tenantID int64) UserStore
	Sessions() SessionStore
	RefreshTokens() RefreshTokenStore
	RevokedTokens() RevokedTokenStore
	LoginAttempts() LoginAttemptStore
	MFA() MFAStore
	APIKeys(tenantID int64) APIKeyStore
	APIKeyDirectory() APIKeyDirectory
	PasswordResets() PasswordResetStore
	EmailVerifications() EmailVerificationStore
	Audit() AuditStore

	// WithTenant runs fn over a transaction-scoped Bundle with the RLS
	// session variables (app.current_tenant_id, app.current_user_id) set,
	// the defense-in-depth layer behind the repository scoping. Backends
	// without session variables run fn over themselves.
	WithTenant(ctx context.Context, tenantID int64, userID uuid.UUID, fn func(Bundle) error) error
	// WithTx runs fn over a transaction-scoped Bundle without RLS variables,
	// for system paths that legitimately cross tenants.
	WithTx(ctx context.Context, fn func(Bundle) error) error
}
