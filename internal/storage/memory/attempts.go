package memory

import (
	"context"
	"time"

	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
)

type loginAttemptRepo struct{ s *Store }

var _ storage.LoginAttemptStore = (*loginAttemptRepo)(nil)

func (r *loginAttemptRepo) Record(ctx context.Context, a *model.LoginAttempt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextAttemptID++
	a.ID = r.s.nextAttemptID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	r.s.attempts = append(r.s.attempts, *a)
	return nil
}

func (r *loginAttemptRepo) CountFailuresByIdentifier(ctx context.Context, identifier string, since time.Time) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var n int64
	for _, a := range r.s.attempts {
		if !a.Success && a.Identifier == identifier && !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *loginAttemptRepo) CountFailuresByIP(ctx context.Context, ip string, since time.Time) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var n int64
	for _, a := range r.s.attempts {
		if !a.Success && a.IP == ip && !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *loginAttemptRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kept := r.s.attempts[:0]
	var n int64
	for _, a := range r.s.attempts {
		if a.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	r.s.attempts = kept
	return n, nil
}
