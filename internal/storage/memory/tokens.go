package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
)

type refreshTokenRepo struct{ s *Store }

var _ storage.RefreshTokenStore = (*refreshTokenRepo)(nil)

func (r *refreshTokenRepo) Create(ctx context.Context, t *model.RefreshToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.refreshTokens[t.JTI]; exists {
		return storage.ErrDuplicate
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	r.s.refreshTokens[t.JTI] = *t
	return nil
}

func (r *refreshTokenRepo) GetByJTI(ctx context.Context, jti uuid.UUID) (*model.RefreshToken, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.refreshTokens[jti]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &t, nil
}

// MarkUsed wins only when used_at is still null, which makes concurrent
// presentations of the same token resolve to exactly one winner.
func (r *refreshTokenRepo) MarkUsed(ctx context.Context, jti uuid.UUID, at time.Time, replacedBy *uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.refreshTokens[jti]
	if !ok || t.UsedAt != nil {
		return false, nil
	}
	u := at
	t.UsedAt = &u
	if replacedBy != nil {
		rb := *replacedBy
		t.ReplacedByJTI = &rb
	}
	r.s.refreshTokens[jti] = t
	return true, nil
}

func (r *refreshTokenRepo) MarkAllUsedForUser(ctx context.Context, userID uuid.UUID, at time.Time) ([]model.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var consumed []model.RefreshToken
	for jti, t := range r.s.refreshTokens {
		if t.UserID != userID || t.UsedAt != nil {
			continue
		}
		u := at
		t.UsedAt = &u
		r.s.refreshTokens[jti] = t
		consumed = append(consumed, t)
	}
	return consumed, nil
}

func (r *refreshTokenRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for jti, t := range r.s.refreshTokens {
		if t.ExpiresAt.Before(cutoff) {
			delete(r.s.refreshTokens, jti)
			n++
		}
	}
	return n, nil
}

type revokedTokenRepo struct{ s *Store }

var _ storage.RevokedTokenStore = (*revokedTokenRepo)(nil)

// Add keeps the earliest entry when the jti is already blacklisted.
func (r *revokedTokenRepo) Add(ctx context.Context, jti uuid.UUID, expiresAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.revoked[jti]; exists {
		return nil
	}
	r.s.revoked[jti] = model.RevokedToken{
		JTI:       jti,
		ExpiresAt: expiresAt,
		RevokedAt: time.Now().UTC(),
	}
	return nil
}

func (r *revokedTokenRepo) IsRevoked(ctx context.Context, jti uuid.UUID) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.revoked[jti]
	return ok, nil
}

func (r *revokedTokenRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for jti, t := range r.s.revoked {
		if t.ExpiresAt.Before(now) {
			delete(r.s.revoked, jti)
			n++
		}
	}
	return n, nil
}
