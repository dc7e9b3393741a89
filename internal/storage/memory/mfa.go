package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
)

type mfaRepo struct{ s *Store }

var _ storage.MFAStore = (*mfaRepo)(nil)

func (r *mfaRepo) UpsertSecret(ctx context.Context, sec *model.MFASecret) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sec.CreatedAt.IsZero() {
		sec.CreatedAt = time.Now().UTC()
	}
	r.s.mfaSecrets[sec.UserID] = *sec
	return nil
}

func (r *mfaRepo) GetSecret(ctx context.Context, userID uuid.UUID) (*model.MFASecret, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sec, ok := r.s.mfaSecrets[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &sec, nil
}

func (r *mfaRepo) EnableSecret(ctx context.Context, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sec, ok := r.s.mfaSecrets[userID]
	if !ok {
		return storage.ErrNotFound
	}
	sec.Enabled = true
	r.s.mfaSecrets[userID] = sec
	return nil
}

func (r *mfaRepo) DeleteSecret(ctx context.Context, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.mfaSecrets[userID]; !ok {
		return storage.ErrNotFound
	}
	delete(r.s.mfaSecrets, userID)
	for id, code := range r.s.recoveryCodes {
		if code.UserID == userID {
			delete(r.s.recoveryCodes, id)
		}
	}
	return nil
}

// AdvanceCounter moves last_counter only strictly forward. A counter at or
// below the stored value means that time step already authenticated once.
func (r *mfaRepo) AdvanceCounter(ctx context.Context, userID uuid.UUID, counter int64, usedAt time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sec, ok := r.s.mfaSecrets[userID]
	if !ok || sec.LastCounter >= counter {
		return false, nil
	}
	sec.LastCounter = counter
	at := usedAt
	sec.LastUsedAt = &at
	r.s.mfaSecrets[userID] = sec
	return true, nil
}

func (r *mfaRepo) ReplaceRecoveryCodes(ctx context.Context, userID uuid.UUID, tenantID int64, hashes []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, code := range r.s.recoveryCodes {
		if code.UserID == userID {
			delete(r.s.recoveryCodes, id)
		}
	}
	now := time.Now().UTC()
	for _, h := range hashes {
		r.s.nextRecoveryID++
		r.s.recoveryCodes[r.s.nextRecoveryID] = model.MFARecoveryCode{
			ID:        r.s.nextRecoveryID,
			UserID:    userID,
			TenantID:  tenantID,
			CodeHash:  h,
			CreatedAt: now,
		}
	}
	return nil
}

func (r *mfaRepo) ListRecoveryCodes(ctx context.Context, userID uuid.UUID) ([]model.MFARecoveryCode, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []model.MFARecoveryCode
	for _, code := range r.s.recoveryCodes {
		if code.UserID == userID {
			out = append(out, code)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *mfaRepo) ConsumeRecoveryCode(ctx context.Context, id int64, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	code, ok := r.s.recoveryCodes[id]
	if !ok || code.UsedAt != nil {
		return false, nil
	}
	t := at
	code.UsedAt = &t
	r.s.recoveryCodes[id] = code
	return true, nil
}
