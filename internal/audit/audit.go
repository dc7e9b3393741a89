// Package audit records the security trail of the identity core. Every
// state-changing authentication event produces exactly one audit event.
//
// Recording on the authentication path is not best-effort: Record returns an
// error and the callers on that path propagate it, failing the operation
// rather than completing it invisibly.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
)

// Action vocabulary. These strings are part of the external contract: they
// appear in stored events and in the audit API.
const (
	ActionLoginSuccess           = "login_success"
	ActionLoginFailed            = "login_failed"
	ActionLoginAttemptLocked     = "login_attempt_locked"
	ActionLoginMFARequired       = "login_mfa_required"
	ActionMFAEnabled             = "mfa_enabled"
	ActionMFADisabled            = "mfa_disabled"
	ActionMFALockout             = "mfa_lockout"
	ActionTokenRefreshed         = "token_refreshed"
	ActionTokenReplayDetected    = "token_replay_detected"
	ActionTokenRevoked           = "token_revoked"
	ActionLogout                 = "logout"
	ActionPasswordChanged        = "password_changed"
	ActionPasswordResetRequested = "password_reset_requested"
	ActionPasswordResetCompleted = "password_reset_completed"
	ActionSessionsTerminated     = "sessions_terminated"
	ActionAPIKeyCreated          = "api_key_created"
	ActionAPIKeyRevoked          = "api_key_revoked"
	ActionUserRegistered         = "user_registered"
	ActionEmailVerified          = "email_verified"
)

// sensitiveActions marks events the retention sweep must never delete.
var sensitiveActions = map[string]bool{
	ActionTokenReplayDetected:    true,
	ActionTokenRevoked:           true,
	ActionMFAEnabled:             true,
	ActionMFADisabled:            true,
	ActionMFALockout:             true,
	ActionPasswordChanged:        true,
	ActionPasswordResetCompleted: true,
	ActionSessionsTerminated:     true,
	ActionLoginAttemptLocked:     true,
}

// Sensitive reports whether an action is retained indefinitely.
func Sensitive(action string) bool { return sensitiveActions[action] }

// Event is the input to a Recorder. Zero-value ActorID and SessionID are
// stored as null, which is how anonymous failures are recorded.
type Event struct {
	TenantID  int64
	ActorID   uuid.UUID
	SessionID uuid.UUID
	Action    string
	Success   bool
	IP        string
	UserAgent string
	Details   map[string]any
}

// Recorder is the contract the services depend on.
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

// Service persists events through an AuditStore and mirrors them to slog so
// the trail shows up in aggregated logs as well.
type Service struct {
	store  storage.AuditStore
	logger *slog.Logger
}

func NewService(store storage.AuditStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

var _ Recorder = (*Service)(nil)

func (s *Service) Record(ctx context.Context, e Event) error {
	ev := toModel(e)
	if err := s.store.Record(ctx, ev); err != nil {
		s.logger.ErrorContext(ctx, "audit write failed",
			"action", e.Action, "tenant_id", e.TenantID, "error", err)
		return err
	}

	s.logger.InfoContext(ctx, "audit",
		"action", ev.Action,
		"tenant_id", ev.TenantID,
		"actor_id", actorString(ev.ActorID),
		"success", ev.Success,
		"ip", ev.IP,
	)
	return nil
}

func toModel(e Event) *model.AuditEvent {
	ev := &model.AuditEvent{
		TenantID:  e.TenantID,
		Action:    e.Action,
		Success:   e.Success,
		Sensitive: Sensitive(e.Action),
		IP:        e.IP,
		UserAgent: e.UserAgent,
		Details:   e.Details,
		CreatedAt: time.Now().UTC(),
	}
	if e.ActorID != uuid.Nil {
		actor := e.ActorID
		ev.ActorID = &actor
	}
	if e.SessionID != uuid.Nil {
		session := e.SessionID
		ev.SessionID = &session
	}
	return ev
}

func actorString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

// Memory keeps events in a slice. Test double.
type Memory struct {
	mu     sync.Mutex
	events []Event

	// FailNext makes the next Record call return this error, for verifying
	// that callers propagate audit failures.
	FailNext error
}

var _ Recorder = (*Memory)(nil)

func (m *Memory) Record(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailNext != nil {
		err := m.FailNext
		m.FailNext = nil
		return err
	}
	m.events = append(m.events, e)
	return nil
}

// Events returns a copy of everything recorded so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Last returns the most recent event with the given action, or false.
func (m *Memory) Last(action string) (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].Action == action {
			return m.events[i], true
		}
	}
	return Event{}, false
}

// CountAction returns how many events carry the action.
func (m *Memory) CountAction(action string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Action == action {
			n++
		}
	}
	return n
}
