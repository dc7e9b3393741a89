package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/apperr"
	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
)

// SessionLimits configures the per-user cap on concurrent sessions.
type SessionLimits struct {
	// AbsoluteLifetime is the hard ceiling on session age. Fixed at creation,
	// never extended.
	AbsoluteLifetime time.Duration
	// MaxActive of 0 means unlimited.
	MaxActive int
	// RejectWhenFull switches the cap from evict-oldest to reject-new.
	RejectWhenFull bool
}

// BruteForceWindows configures attempt counting for lockout and CAPTCHA
// gating.
type BruteForceWindows struct {
	LockoutThreshold int
	LockoutWindow    time.Duration
	CaptchaThreshold int
	CaptchaWindow    time.Duration
}

// SessionService owns the session lifecycle and the login-attempt windows.
type SessionService struct {
	stores  storage.Bundle
	limits  SessionLimits
	windows BruteForceWindows
	logger  *slog.Logger
}

func NewSessionService(stores storage.Bundle, limits SessionLimits, windows BruteForceWindows, logger *slog.Logger) *SessionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{stores: stores, limits: limits, windows: windows, logger: logger}
}

// Create opens a session for the user, enforcing the active-session cap.
// Under evict-oldest the displaced session is revoked before the new one is
// inserted; its refresh tokens die with it because token verification checks
// the parent session.
func (s *SessionService) Create(ctx context.Context, user *model.User, ip, userAgent string) (*model.Session, error) {
	now := time.Now().UTC()

	if s.limits.MaxActive > 0 {
		active, err := s.stores.Sessions().CountActiveForUser(ctx, user.ID, now)
		if err != nil {
			return nil, apperr.Internal(fmt.Errorf("counting active sessions: %w", err))
		}
		if active >= int64(s.limits.MaxActive) {
			if s.limits.RejectWhenFull {
				return nil, apperr.Validation("maximum number of active sessions reached")
			}
			if err := s.evictOldest(ctx, user.ID, now); err != nil {
				return nil, err
			}
		}
	}

	session := &model.Session{
		ID:             uuid.New(),
		UserID:         user.ID,
		TenantID:       user.TenantID,
		CreatedAt:      now,
		LastSeenAt:     now,
		IP:             ip,
		UserAgent:      userAgent,
		AbsoluteExpiry: now.Add(s.limits.AbsoluteLifetime),
	}
	if err := s.stores.Sessions().Create(ctx, session); err != nil {
		return nil, apperr.Internal(fmt.Errorf("creating session: %w", err))
	}
	return session, nil
}

func (s *SessionService) evictOldest(ctx context.Context, userID uuid.UUID, now time.Time) error {
	oldest, err := s.stores.Sessions().OldestActiveForUser(ctx, userID, now)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return apperr.Internal(fmt.Errorf("finding oldest session: %w", err))
	}

	if _, err := s.stores.Sessions().Revoke(ctx, oldest.ID, now); err != nil {
		return apperr.Internal(fmt.Errorf("evicting session: %w", err))
	}
	s.logger.InfoContext(ctx, "session evicted by cap",
		"user_id", userID, "session_id", oldest.ID)
	return nil
}

// GetForUser fetches a session the user owns. A session that exists but
// belongs to someone else surfaces as not found.
func (s *SessionService) GetForUser(ctx context.Context, id, userID uuid.UUID) (*model.Session, error) {
	session, err := s.stores.Sessions().GetForUser(ctx, id, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFound("session")
		}
		return nil, apperr.Internal(fmt.Errorf("loading session: %w", err))
	}
	return session, nil
}

// ListActiveForUser returns the user's live sessions, newest first.
func (s *SessionService) ListActiveForUser(ctx context.Context, userID uuid.UUID) ([]model.Session, error) {
	sessions, err := s.stores.Sessions().ListActiveForUser(ctx, userID, time.Now().UTC())
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("listing sessions: %w", err))
	}
	return sessions, nil
}

// SessionDiagnostic compares a session's recorded origin with the origin of
// the request inspecting it.
type SessionDiagnostic struct {
	Session          *model.Session
	IPChanged        bool
	UserAgentChanged bool
}

// InspectSession reports whether the presented request origin still matches
// what the session recorded at creation. It never terminates anything; the
// caller decides what a mismatch means.
func (s *SessionService) InspectSession(ctx context.Context, id, userID uuid.UUID, currentIP, currentUA string) (*SessionDiagnostic, error) {
	session, err := s.GetForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	return &SessionDiagnostic{
		Session:          session,
		IPChanged:        currentIP != "" && session.IP != currentIP,
		UserAgentChanged: currentUA != "" && session.UserAgent != currentUA,
	}, nil
}

// Terminate revokes one session if the user owns it, reporting whether a
// revocation actually happened. Terminating someone else's session reports
// false exactly like a missing one.
func (s *SessionService) Terminate(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	ok, err := s.stores.Sessions().RevokeForUser(ctx, id, userID, time.Now().UTC())
	if err != nil {
		return false, apperr.Internal(fmt.Errorf("revoking session: %w", err))
	}
	return ok, nil
}

// TerminateAllForUser revokes every active session except an optional
// survivor, typically the one the request itself rides on.
func (s *SessionService) TerminateAllForUser(ctx context.Context, userID uuid.UUID, except *uuid.UUID) (int64, error) {
	n, err := s.stores.Sessions().RevokeAllForUser(ctx, userID, except, time.Now().UTC())
	if err != nil {
		return 0, apperr.Internal(fmt.Errorf("revoking sessions: %w", err))
	}
	return n, nil
}

// Touch advances last_seen_at. Refresh calls this; failures are logged and
// swallowed because staleness of last_seen_at is harmless.
func (s *SessionService) Touch(ctx context.Context, id uuid.UUID) {
	if err := s.stores.Sessions().Touch(ctx, id, time.Now().UTC()); err != nil {
		s.logger.WarnContext(ctx, "failed to touch session", "session_id", id, "error", err)
	}
}

// RecordAttempt writes one login attempt. Recording failures must never take
// the login path down, so errors are logged at warn and swallowed.
func (s *SessionService) RecordAttempt(ctx context.Context, identifier, ip, userAgent string, success bool) {
	attempt := &model.LoginAttempt{
		Identifier: identifier,
		IP:         ip,
		UserAgent:  userAgent,
		Success:    success,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.stores.LoginAttempts().Record(ctx, attempt); err != nil {
		s.logger.WarnContext(ctx, "failed to record login attempt",
			"identifier", identifier, "error", err)
	}
}

// LockoutState reports whether the identifier is locked out and how long
// until the window frees up.
func (s *SessionService) LockoutState(ctx context.Context, identifier string) (bool, int, error) {
	since := time.Now().Add(-s.windows.LockoutWindow)
	failures, err := s.stores.LoginAttempts().CountFailuresByIdentifier(ctx, identifier, since)
	if err != nil {
		return false, 0, apperr.Internal(fmt.Errorf("counting login failures: %w", err))
	}
	if failures < int64(s.windows.LockoutThreshold) {
		return false, 0, nil
	}
	// The window slides; the conservative retry hint is the full window.
	return true, int(s.windows.LockoutWindow.Seconds()), nil
}

// NeedsCaptcha reports whether the CAPTCHA gate is triggered for this
// identifier or source IP. Either count alone can trip it.
func (s *SessionService) NeedsCaptcha(ctx context.Context, identifier, ip string) (bool, error) {
	since := time.Now().Add(-s.windows.CaptchaWindow)

	byIdentifier, err := s.stores.LoginAttempts().CountFailuresByIdentifier(ctx, identifier, since)
	if err != nil {
		return false, apperr.Internal(fmt.Errorf("counting failures by identifier: %w", err))
	}
	if byIdentifier >= int64(s.windows.CaptchaThreshold) {
		return true, nil
	}

	byIP, err := s.stores.LoginAttempts().CountFailuresByIP(ctx, ip, since)
	if err != nil {
		return false, apperr.Internal(fmt.Errorf("counting failures by ip: %w", err))
	}
	return byIP >= int64(s.windows.CaptchaThreshold), nil
}
