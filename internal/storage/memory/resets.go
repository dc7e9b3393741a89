package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
)

type passwordResetRepo struct{ s *Store }

var _ storage.PasswordResetStore = (*passwordResetRepo)(nil)

func (r *passwordResetRepo) Create(ctx context.Context, t *model.PasswordResetToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextResetID++
	t.ID = r.s.nextResetID
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	r.s.resets[t.ID] = *t
	return nil
}

func (r *passwordResetRepo) GetByHash(ctx context.Context, tokenHash string) (*model.PasswordResetToken, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, t := range r.s.resets {
		if t.TokenHash == tokenHash {
			out := t
			return &out, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *passwordResetRepo) MarkUsed(ctx context.Context, id int64, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.resets[id]
	if !ok || t.UsedAt != nil {
		return false, nil
	}
	u := at
	t.UsedAt = &u
	r.s.resets[id] = t
	return true, nil
}

func (r *passwordResetRepo) InvalidateAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, t := range r.s.resets {
		if t.UserID != userID || t.UsedAt != nil {
			continue
		}
		u := at
		t.UsedAt = &u
		r.s.resets[id] = t
		n++
	}
	return n, nil
}

func (r *passwordResetRepo) CountRecentForUser(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var n int64
	for _, t := range r.s.resets {
		if t.UserID == userID && !t.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *passwordResetRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, t := range r.s.resets {
		if t.ExpiresAt.Before(cutoff) {
			delete(r.s.resets, id)
			n++
		}
	}
	return n, nil
}

type emailVerificationRepo struct{ s *Store }

var _ storage.EmailVerificationStore = (*emailVerificationRepo)(nil)

func (r *emailVerificationRepo) Create(ctx context.Context, t *model.EmailVerificationToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextVerifyID++
	t.ID = r.s.nextVerifyID
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	r.s.verifications[t.ID] = *t
	return nil
}

func (r *emailVerificationRepo) GetByHash(ctx context.Context, tokenHash string) (*model.EmailVerificationToken, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, t := range r.s.verifications {
		if t.TokenHash == tokenHash {
			out := t
			return &out, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *emailVerificationRepo) MarkUsed(ctx context.Context, id int64, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.verifications[id]
	if !ok || t.UsedAt != nil {
		return false, nil
	}
	u := at
	t.UsedAt = &u
	r.s.verifications[id] = t
	return true, nil
}

func (r *emailVerificationRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, t := range r.s.verifications {
		if t.ExpiresAt.Before(cutoff) {
			delete(r.s.verifications, id)
			n++
		}
	}
	return n, nil
}
