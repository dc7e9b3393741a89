package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/apperr"
	"github.com/comptoirhq/identity/internal/audit"
	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
)

const (
	passwordMinLength = 12
	passwordMaxLength = 512
)

// validatePassword enforces the policy shared by registration, password
// change and reset confirmation.
func validatePassword(password string) error {
	switch n := utf8.RuneCountInString(password); {
	case n < passwordMinLength:
		return apperr.Validation(fmt.Sprintf("password must be at least %d characters", passwordMinLength))
	case n > passwordMaxLength:
		return apperr.Validation(fmt.Sprintf("password must be at most %d characters", passwordMaxLength))
	}
	return nil
}

// Authenticate resolves tenant-scoped credentials to a user. Every failure
// mode is the uniform invalid-credentials error, and the work done before
// returning it does not depend on whether the user exists.
func (s *AuthService) Authenticate(ctx context.Context, tenantID int64, email, password string) (*model.User, error) {
	user, err := s.stores.Users(tenantID).GetByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Burn a real Argon2id verification so the unknown-user path
			// costs the same as a wrong password.
			s.verifier.CompareDummy(password)
			return nil, apperr.InvalidCredentials()
		}
		return nil, apperr.Internal(fmt.Errorf("loading user: %w", err))
	}

	if err := s.verifier.Compare(user.PasswordHash, password); err != nil {
		if !errors.Is(err, ErrPasswordMismatch) {
			s.logger.ErrorContext(ctx, "password hash could not be verified",
				"user_id", user.ID, "error", err)
		}
		return nil, apperr.InvalidCredentials()
	}

	// Account gates come after the hash comparison so a disabled account
	// takes exactly as long as an enabled one.
	if !user.IsActive {
		return nil, apperr.InvalidCredentials()
	}
	if s.cfg.RequireVerifiedEmail && !user.IsVerified {
		return nil, apperr.InvalidCredentials()
	}

	s.maybeRehash(ctx, user, password)

	return user, nil
}

// maybeRehash upgrades a legacy bcrypt hash to Argon2id now that the raw
// password is in hand. Best-effort: the login proceeds on failure, and
// password_changed_at keeps its original value because the password itself
// did not change.
func (s *AuthService) maybeRehash(ctx context.Context, user *model.User, password string) {
	if !s.verifier.NeedsRehash(user.PasswordHash) {
		return
	}

	newHash, err := s.verifier.Hash(password)
	if err != nil {
		s.logger.WarnContext(ctx, "password rehash failed", "user_id", user.ID, "error", err)
		return
	}

	changedAt := user.CreatedAt
	if user.PasswordChangedAt != nil {
		changedAt = *user.PasswordChangedAt
	}
	if err := s.stores.Users(user.TenantID).UpdatePasswordHash(ctx, user.ID, newHash, changedAt); err != nil {
		s.logger.WarnContext(ctx, "password rehash write failed", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = newHash
}

// ChangePassword verifies the current password, installs the new one and
// terminates every other session. keep is the session the request rides on;
// nil terminates all of them. Refresh tokens of terminated sessions die via
// the session liveness check on rotation.
func (s *AuthService) ChangePassword(ctx context.Context, user *model.User, currentPassword, newPassword string, keep *uuid.UUID, ip, userAgent string) error {
	if err := s.verifier.Compare(user.PasswordHash, currentPassword); err != nil {
		return apperr.Validation("current password is incorrect")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	newHash, err := s.verifier.Hash(newPassword)
	if err != nil {
		return apperr.Internal(fmt.Errorf("hashing password: %w", err))
	}

	now := time.Now().UTC()
	if err := s.stores.Users(user.TenantID).UpdatePasswordHash(ctx, user.ID, newHash, now); err != nil {
		return apperr.Internal(fmt.Errorf("updating password: %w", err))
	}
	user.PasswordHash = newHash
	user.PasswordChangedAt = &now

	// Pending reset tokens issued against the old password die with it.
	if _, err := s.stores.PasswordResets().InvalidateAllForUser(ctx, user.ID, now); err != nil {
		return apperr.Internal(fmt.Errorf("invalidating reset tokens: %w", err))
	}

	terminated, err := s.sessions.TerminateAllForUser(ctx, user.ID, keep)
	if err != nil {
		return err
	}

	event := audit.Event{
		TenantID:  user.TenantID,
		ActorID:   user.ID,
		Action:    audit.ActionPasswordChanged,
		Success:   true,
		IP:        ip,
		UserAgent: userAgent,
		Details:   map[string]any{"sessions_terminated": terminated},
	}
	if keep != nil {
		event.SessionID = *keep
	}
	if err := s.auditor.Record(ctx, event); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// GetUser loads one user within the tenant.
func (s *AuthService) GetUser(ctx context.Context, tenantID int64, userID uuid.UUID) (*model.User, error) {
	user, err := s.stores.Users(tenantID).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFound("user")
		}
		return nil, apperr.Internal(fmt.Errorf("loading user: %w", err))
	}
	return user, nil
}
