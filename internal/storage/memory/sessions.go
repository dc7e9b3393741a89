package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
)

type sessionRepo struct{ s *Store }

var _ storage.SessionStore = (*sessionRepo)(nil)

func (r *sessionRepo) Create(ctx context.Context, sess *model.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	r.s.sessions[sess.ID] = *sess
	return nil
}

func (r *sessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sess, ok := r.s.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &sess, nil
}

// GetForUser applies id and owner together, so a session owned by someone
// else is indistinguishable from one that does not exist.
func (r *sessionRepo) GetForUser(ctx context.Context, id, userID uuid.UUID) (*model.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sess, ok := r.s.sessions[id]
	if !ok || sess.UserID != userID {
		return nil, storage.ErrNotFound
	}
	return &sess, nil
}

func (r *sessionRepo) activeForUser(userID uuid.UUID, now time.Time) []model.Session {
	var out []model.Session
	for _, sess := range r.s.sessions {
		if sess.UserID == userID && sess.IsActive(now) {
			out = append(out, sess)
		}
	}
	return out
}

func (r *sessionRepo) ListActiveForUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]model.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := r.activeForUser(userID, now)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *sessionRepo) CountActiveForUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return int64(len(r.activeForUser(userID, now))), nil
}

func (r *sessionRepo) OldestActiveForUser(ctx context.Context, userID uuid.UUID, now time.Time) (*model.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	active := r.activeForUser(userID, now)
	if len(active) == 0 {
		return nil, storage.ErrNotFound
	}
	oldest := active[0]
	for _, sess := range active[1:] {
		if sess.CreatedAt.Before(oldest.CreatedAt) {
			oldest = sess
		}
	}
	return &oldest, nil
}

func (r *sessionRepo) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok {
		return storage.ErrNotFound
	}
	sess.LastSeenAt = at
	r.s.sessions[id] = sess
	return nil
}

func (r *sessionRepo) RevokeForUser(ctx context.Context, id, userID uuid.UUID, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok || sess.UserID != userID || sess.RevokedAt != nil {
		return false, nil
	}
	t := at
	sess.RevokedAt = &t
	r.s.sessions[id] = sess
	return true, nil
}

func (r *sessionRepo) Revoke(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok || sess.RevokedAt != nil {
		return false, nil
	}
	t := at
	sess.RevokedAt = &t
	r.s.sessions[id] = sess
	return true, nil
}

func (r *sessionRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, except *uuid.UUID, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, sess := range r.s.sessions {
		if sess.UserID != userID || sess.RevokedAt != nil {
			continue
		}
		if except != nil && id == *except {
			continue
		}
		t := at
		sess.RevokedAt = &t
		r.s.sessions[id] = sess
		n++
	}
	return n, nil
}

func (r *sessionRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, sess := range r.s.sessions {
		if sess.AbsoluteExpiry.Before(cutoff) {
			delete(r.s.sessions, id)
			n++
		}
	}
	return n, nil
}
