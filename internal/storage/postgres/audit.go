package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
)

type auditRepo struct {
	db DB
}

var _ storage.AuditStore = (*auditRepo)(nil)

func (r *auditRepo) Record(ctx context.Context, e *model.AuditEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	const q = `
		INSERT INTO audit_events (tenant_id, actor_id, session_id, action,
			success, sensitive, ip, user_agent, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`
	err := r.db.QueryRow(ctx, q,
		e.TenantID, e.ActorID, e.SessionID, e.Action,
		e.Success, e.Sensitive, e.IP, e.UserAgent, e.Details, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("recording audit event: %w", err)
	}
	return nil
}

func (r *auditRepo) ListForTenant(ctx context.Context, tenantID int64, page storage.Page) ([]model.AuditEvent, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	const q = `
		SELECT id, tenant_id, actor_id, session_id, action, success, sensitive,
			ip, user_agent, details, created_at
		FROM audit_events
		WHERE tenant_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, q, tenantID, page.Size, page.Offset())
	if err != nil {
		return nil, fmt.Errorf("listing audit events: %w", err)
	}
	defer rows.Close()

	var events []model.AuditEvent
	for rows.Next() {
		var e model.AuditEvent
		err := rows.Scan(
			&e.ID, &e.TenantID, &e.ActorID, &e.SessionID, &e.Action, &e.Success,
			&e.Sensitive, &e.IP, &e.UserAgent, &e.Details, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *auditRepo) CountForTenant(ctx context.Context, tenantID int64) (int64, error) {
	const q = `SELECT COUNT(*) FROM audit_events WHERE tenant_id = $1`
	var n int64
	if err := r.db.QueryRow(ctx, q, tenantID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting audit events: %w", err)
	}
	return n, nil
}

func (r *auditRepo) DeleteNonSensitiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM audit_events WHERE sensitive = FALSE AND created_at < $1`
	tag, err := r.db.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning audit events: %w", err)
	}
	return tag.RowsAffected(), nil
}
