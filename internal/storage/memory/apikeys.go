package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
)

// apiKeyRepo serves both contracts: tenant-bound management when tenantID is
// set and the cross-tenant hash directory used by key validation.
type apiKeyRepo struct {
	s        *Store
	tenantID int64
}

var (
	_ storage.APIKeyStore     = (*apiKeyRepo)(nil)
	_ storage.APIKeyDirectory = (*apiKeyRepo)(nil)
)

func (r *apiKeyRepo) TenantID() int64 { return r.tenantID }

func (r *apiKeyRepo) Create(ctx context.Context, k *model.APIKey) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	k.TenantID = r.tenantID
	for _, existing := range r.s.apiKeys {
		if existing.KeyHash == k.KeyHash {
			return storage.ErrDuplicate
		}
	}
	r.s.apiKeys[k.ID] = *k
	return nil
}

func (r *apiKeyRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.APIKey, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	k, ok := r.s.apiKeys[id]
	if !ok || k.TenantID != r.tenantID {
		return nil, storage.ErrNotFound
	}
	return &k, nil
}

func (r *apiKeyRepo) list() []model.APIKey {
	var out []model.APIKey
	for _, k := range r.s.apiKeys {
		if k.TenantID == r.tenantID {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *apiKeyRepo) List(ctx context.Context) ([]model.APIKey, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.list(), nil
}

func (r *apiKeyRepo) Paginate(ctx context.Context, page storage.Page) ([]model.APIKey, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	all := r.list()
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

func (r *apiKeyRepo) Revoke(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k, ok := r.s.apiKeys[id]
	if !ok || k.TenantID != r.tenantID || k.RevokedAt != nil {
		return false, nil
	}
	t := at
	k.RevokedAt = &t
	r.s.apiKeys[id] = k
	return true, nil
}

func (r *apiKeyRepo) TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k, ok := r.s.apiKeys[id]
	if !ok {
		return storage.ErrNotFound
	}
	t := at
	k.LastUsedAt = &t
	r.s.apiKeys[id] = k
	return nil
}

// GetByHash searches every tenant; the hash is the credential.
func (r *apiKeyRepo) GetByHash(ctx context.Context, keyHash string) (*model.APIKey, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, k := range r.s.apiKeys {
		if k.KeyHash == keyHash {
			out := k
			return &out, nil
		}
	}
	return nil, storage.ErrNotFound
}
