// Package memory implements the storage contracts with mutex-guarded maps.
// It backs the service tests and the no-database development mode, honoring
// the same tenant-scope and ownership semantics as the PostgreSQL backend.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
)

// Store holds every table under one lock. Methods copy rows in and out so
// callers never alias internal state.
type Store struct {
	mu sync.RWMutex

	nextTenantID   int64
	nextAttemptID  int64
	nextRecoveryID int64
	nextResetID    int64
	nextVerifyID   int64
	nextAuditID    int64

	tenants       map[int64]model.Tenant
	users         map[uuid.UUID]model.User
	emailIndex    map[string]uuid.UUID // "tenant:normalized-email"
	sessions      map[uuid.UUID]model.Session
	refreshTokens map[uuid.UUID]model.RefreshToken
	revoked       map[uuid.UUID]model.RevokedToken
	attempts      []model.LoginAttempt
	mfaSecrets    map[uuid.UUID]model.MFASecret
	recoveryCodes map[int64]model.MFARecoveryCode
	apiKeys       map[uuid.UUID]model.APIKey
	resets        map[int64]model.PasswordResetToken
	verifications map[int64]model.EmailVerificationToken
	auditEvents   []model.AuditEvent
}

var _ storage.Bundle = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		tenants:       make(map[int64]model.Tenant),
		users:         make(map[uuid.UUID]model.User),
		emailIndex:    make(map[string]uuid.UUID),
		sessions:      make(map[uuid.UUID]model.Session),
		refreshTokens: make(map[uuid.UUID]model.RefreshToken),
		revoked:       make(map[uuid.UUID]model.RevokedToken),
		mfaSecrets:    make(map[uuid.UUID]model.MFASecret),
		recoveryCodes: make(map[int64]model.MFARecoveryCode),
		apiKeys:       make(map[uuid.UUID]model.APIKey),
		resets:        make(map[int64]model.PasswordResetToken),
		verifications: make(map[int64]model.EmailVerificationToken),
	}
}

func (s *Store) Tenants() storage.TenantStore             { return &tenantRepo{s} }
func (s *Store) Users(tenantID int64) storage.UserStore   { return &userRepo{s: s, tenantID: tenantID} }
func (s *Store) Sessions() storage.SessionStore           { return &sessionRepo{s} }
func (s *Store) RefreshTokens() storage.RefreshTokenStore { return &refreshTokenRepo{s} }
func (s *Store) RevokedTokens() storage.RevokedTokenStore { return &revokedTokenRepo{s} }
func (s *Store) LoginAttempts() storage.LoginAttemptStore { return &loginAttemptRepo{s} }
func (s *Store) MFA() storage.MFAStore                    { return &mfaRepo{s} }
func (s *Store) APIKeys(tenantID int64) storage.APIKeyStore {
	return &apiKeyRepo{s: s, tenantID: tenantID}
}
func (s *Store) APIKeyDirectory() storage.APIKeyDirectory { return &apiKeyRepo{s: s} }
func (s *Store) PasswordResets() storage.PasswordResetStore {
	return &passwordResetRepo{s}
}
func (s *Store) EmailVerifications() storage.EmailVerificationStore {
	return &emailVerificationRepo{s}
}
func (s *Store) Audit() storage.AuditStore { return &auditRepo{s} }

// WithTenant has no session variables to set here; the repository scoping is
// the only isolation layer in memory mode.
func (s *Store) WithTenant(ctx context.Context, tenantID int64, userID uuid.UUID, fn func(storage.Bundle) error) error {
	return fn(s)
}

// WithTx runs fn directly; writes are applied as they happen.
func (s *Store) WithTx(ctx context.Context, fn func(storage.Bundle) error) error {
	return fn(s)
}

func emailKey(tenantID int64, email string) string {
	return model.LoginIdentifier(email, tenantID)
}

// --- tenants ---

type tenantRepo struct{ s *Store }

func (r *tenantRepo) Create(ctx context.Context, t *model.Tenant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.tenants {
		if existing.Name == t.Name {
			return storage.ErrDuplicate
		}
	}
	r.s.nextTenantID++
	t.ID = r.s.nextTenantID
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	r.s.tenants[t.ID] = *t
	return nil
}

func (r *tenantRepo) GetByID(ctx context.Context, id int64) (*model.Tenant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.tenants[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &t, nil
}

func (r *tenantRepo) List(ctx context.Context) ([]model.Tenant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]model.Tenant, 0, len(r.s.tenants))
	for _, t := range r.s.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- users ---

type userRepo struct {
	s        *Store
	tenantID int64
}

func (r *userRepo) TenantID() int64 { return r.tenantID }

func (r *userRepo) Create(ctx context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.TenantID = r.tenantID
	u.Email = model.NormalizeEmail(u.Email)

	key := emailKey(r.tenantID, u.Email)
	if _, exists := r.s.emailIndex[key]; exists {
		return storage.ErrDuplicate
	}
	r.s.users[u.ID] = *u
	r.s.emailIndex[key] = u.ID
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok || u.TenantID != r.tenantID {
		return nil, storage.ErrNotFound
	}
	return &u, nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.emailIndex[emailKey(r.tenantID, email)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	u := r.s.users[id]
	return &u, nil
}

func (r *userRepo) mutate(id uuid.UUID, fn func(*model.User)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok || u.TenantID != r.tenantID {
		return storage.ErrNotFound
	}
	fn(&u)
	// The tenant attribute is immutable no matter what the mutation did.
	u.TenantID = r.tenantID
	r.s.users[id] = u
	return nil
}

func (r *userRepo) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string, changedAt time.Time) error {
	return r.mutate(id, func(u *model.User) {
		u.PasswordHash = hash
		at := changedAt
		u.PasswordChangedAt = &at
	})
}

func (r *userRepo) MarkVerified(ctx context.Context, id uuid.UUID) error {
	return r.mutate(id, func(u *model.User) { u.IsVerified = true })
}

func (r *userRepo) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.mutate(id, func(u *model.User) {
		t := at
		u.LastLoginAt = &t
	})
}

func (r *userRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return r.mutate(id, func(u *model.User) { u.IsActive = active })
}

func (r *userRepo) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	return ok && u.TenantID == r.tenantID, nil
}

func (r *userRepo) Count(ctx context.Context) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var n int64
	for _, u := range r.s.users {
		if u.TenantID == r.tenantID {
			n++
		}
	}
	return n, nil
}

func (r *userRepo) Paginate(ctx context.Context, page storage.Page) ([]model.User, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var all []model.User
	for _, u := range r.s.users {
		if u.TenantID == r.tenantID {
			all = append(all, u)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID.String() < all[j].ID.String()
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	start := page.Offset()
	if start >= len(all) {
		return nil, nil
	}
	end := start + page.Size
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}
