package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/apperr"
	"github.com/comptoirhq/identity/internal/audit"
	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/notify"
	"github.com/comptoirhq/identity/internal/storage"
)

const resetTokenBytes = 32

// ResetLimits bounds the password-reset flow.
type ResetLimits struct {
	TokenTTL   time.Duration
	MaxPerHour int64
}

// PasswordResetService runs the forgot-password flow. Request never reveals
// whether an account exists: unknown email, inactive account and a tripped
// rate limit all take the same observable path as success. Confirm collapses
// every failure mode of the token itself into one uniform error.
type PasswordResetService struct {
	stores   storage.Bundle
	verifier *CredentialVerifier
	tokenSvc *TokenService
	sessions *SessionService
	mailer   notify.Mailer
	limiter  FailureLimiter
	auditor  audit.Recorder
	limits   ResetLimits
	logger   *slog.Logger
}

// NewPasswordResetService wires the reset flow. limiter may be nil, in which
// case the per-user rate limit falls back to counting stored tokens.
func NewPasswordResetService(
	stores storage.Bundle,
	verifier *CredentialVerifier,
	tokenSvc *TokenService,
	sessions *SessionService,
	mailer notify.Mailer,
	limiter FailureLimiter,
	auditor audit.Recorder,
	limits ResetLimits,
	logger *slog.Logger,
) *PasswordResetService {
	if logger == nil {
		logger = slog.Default()
	}
	if limits.TokenTTL <= 0 {
		limits.TokenTTL = time.Hour
	}
	if limits.MaxPerHour <= 0 {
		limits.MaxPerHour = 3
	}
	return &PasswordResetService{
		stores:   stores,
		verifier: verifier,
		tokenSvc: tokenSvc,
		sessions: sessions,
		mailer:   mailer,
		limiter:  limiter,
		auditor:  auditor,
		limits:   limits,
		logger:   logger,
	}
}

// Request issues a reset token and mails it. The caller gets nil for unknown
// email, inactive account and rate-limit trips; the HTTP layer turns that
// into one accepted response regardless of what happened here. Only storage
// failures on a live account surface as errors.
func (s *PasswordResetService) Request(ctx context.Context, tenantID int64, email, ip, userAgent string) error {
	user, err := s.stores.Users(tenantID).GetByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.DebugContext(ctx, "reset requested for unknown email", "tenant_id", tenantID)
			return nil
		}
		return apperr.Internal(fmt.Errorf("loading user: %w", err))
	}
	if !user.IsActive {
		return nil
	}

	limited, err := s.rateLimited(ctx, user.ID)
	if err != nil {
		return apperr.Internal(err)
	}
	if limited {
		s.logger.WarnContext(ctx, "reset request rate limited",
			"tenant_id", tenantID, "user_id", user.ID)
		return nil
	}

	raw, err := GenerateSecureToken(resetTokenBytes)
	if err != nil {
		return apperr.Internal(fmt.Errorf("generating reset token: %w", err))
	}

	now := time.Now().UTC()
	token := &model.PasswordResetToken{
		UserID:    user.ID,
		TenantID:  user.TenantID,
		TokenHash: HashToken(raw),
		ExpiresAt: now.Add(s.limits.TokenTTL),
		CreatedAt: now,
	}
	if err := s.stores.PasswordResets().Create(ctx, token); err != nil {
		return apperr.Internal(fmt.Errorf("storing reset token: %w", err))
	}

	if err := s.auditor.Record(ctx, audit.Event{
		TenantID:  user.TenantID,
		ActorID:   user.ID,
		Action:    audit.ActionPasswordResetRequested,
		Success:   true,
		IP:        ip,
		UserAgent: userAgent,
	}); err != nil {
		return apperr.Internal(err)
	}

	// A failed send must not change the response shape, so it is logged and
	// swallowed. The token stays valid; the user can request again within
	// the rate limit.
	if err := s.mailer.SendPasswordReset(ctx, user.Email, raw); err != nil {
		s.logger.ErrorContext(ctx, "reset email delivery failed",
			"tenant_id", user.TenantID, "user_id", user.ID, "error", err)
	}
	return nil
}

// rateLimited enforces the per-user hourly cap. The Redis window is the fast
// path; without it the stored tokens created in the last hour are the truth.
func (s *PasswordResetService) rateLimited(ctx context.Context, userID uuid.UUID) (bool, error) {
	if s.limiter != nil {
		count, _, err := s.limiter.Incr(ctx, resetRateKey(userID), time.Hour)
		if err == nil {
			return count > s.limits.MaxPerHour, nil
		}
		s.logger.WarnContext(ctx, "reset rate limiter unavailable, using store count", "error", err)
	}
	since := time.Now().UTC().Add(-time.Hour)
	count, err := s.stores.PasswordResets().CountRecentForUser(ctx, userID, since)
	if err != nil {
		return false, fmt.Errorf("counting recent reset tokens: %w", err)
	}
	return count >= s.limits.MaxPerHour, nil
}

// Confirm consumes a reset token and installs the new password. Missing,
// expired, used, wrong-tenant and concurrently-consumed tokens are all the
// same uniform error; only the password policy produces a distinct one.
// Success revokes every session and refresh token of the account.
func (s *PasswordResetService) Confirm(ctx context.Context, tenantID int64, rawToken, newPassword, ip, userAgent string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	token, err := s.stores.PasswordResets().GetByHash(ctx, HashToken(rawToken))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.TokenInvalid()
		}
		return apperr.Internal(fmt.Errorf("loading reset token: %w", err))
	}
	if token.TenantID != tenantID {
		return apperr.TokenInvalid()
	}

	now := time.Now().UTC()
	if !token.IsUsable(now) {
		return apperr.TokenInvalid()
	}

	won, err := s.stores.PasswordResets().MarkUsed(ctx, token.ID, now)
	if err != nil {
		return apperr.Internal(fmt.Errorf("consuming reset token: %w", err))
	}
	if !won {
		return apperr.TokenInvalid()
	}

	user, err := s.stores.Users(tenantID).GetByID(ctx, token.UserID)
	if err != nil {
		return apperr.Internal(fmt.Errorf("loading user: %w", err))
	}

	newHash, err := s.verifier.Hash(newPassword)
	if err != nil {
		return apperr.Internal(fmt.Errorf("hashing password: %w", err))
	}
	if err := s.stores.Users(tenantID).UpdatePasswordHash(ctx, user.ID, newHash, now); err != nil {
		return apperr.Internal(fmt.Errorf("updating password: %w", err))
	}

	// Sibling tokens from earlier requests die with the old password.
	if _, err := s.stores.PasswordResets().InvalidateAllForUser(ctx, user.ID, now); err != nil {
		return apperr.Internal(fmt.Errorf("invalidating reset tokens: %w", err))
	}

	// Whoever held the old credentials loses everything they had open.
	revoked, err := s.tokenSvc.RevokeAllForUser(ctx, user.ID)
	if err != nil {
		return err
	}
	terminated, err := s.sessions.TerminateAllForUser(ctx, user.ID, nil)
	if err != nil {
		return err
	}

	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, resetRateKey(user.ID)); err != nil {
			s.logger.WarnContext(ctx, "reset rate counter clear failed", "user_id", user.ID, "error", err)
		}
	}

	if err := s.auditor.Record(ctx, audit.Event{
		TenantID:  user.TenantID,
		ActorID:   user.ID,
		Action:    audit.ActionPasswordResetCompleted,
		Success:   true,
		IP:        ip,
		UserAgent: userAgent,
		Details: map[string]any{
			"sessions_terminated": terminated,
			"tokens_revoked":      revoked,
		},
	}); err != nil {
		return apperr.Internal(err)
	}

	s.logger.InfoContext(ctx, "password reset completed",
		"tenant_id", user.TenantID, "user_id", user.ID,
		"sessions_terminated", terminated)
	return nil
}

func resetRateKey(userID uuid.UUID) string {
	return "pwreset:" + userID.String()
}
