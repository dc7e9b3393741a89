package memory

import (
	"context"
	"time"

	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
)

type auditRepo struct{ s *Store }

var _ storage.AuditStore = (*auditRepo)(nil)

func (r *auditRepo) Record(ctx context.Context, e *model.AuditEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextAuditID++
	e.ID = r.s.nextAuditID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	r.s.auditEvents = append(r.s.auditEvents, *e)
	return nil
}

// ListForTenant returns newest first, matching the PostgreSQL ordering.
func (r *auditRepo) ListForTenant(ctx context.Context, tenantID int64, page storage.Page) ([]model.AuditEvent, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var all []model.AuditEvent
	for i := len(r.s.auditEvents) - 1; i >= 0; i-- {
		if r.s.auditEvents[i].TenantID == tenantID {
			all = append(all, r.s.auditEvents[i])
		}
	}
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

func (r *auditRepo) CountForTenant(ctx context.Context, tenantID int64) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var n int64
	for _, e := range r.s.auditEvents {
		if e.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

func (r *auditRepo) DeleteNonSensitiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kept := r.s.auditEvents[:0]
	var n int64
	for _, e := range r.s.auditEvents {
		if !e.Sensitive && e.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.s.auditEvents = kept
	return n, nil
}
