package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/comptoirhq/identity/internal/apperr"
	"github.com/comptoirhq/identity/internal/audit"
	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/notify"
	"github.com/comptoirhq/identity/internal/storage"
)

const verifyTokenBytes = 32

// RegistrationService creates accounts and proves address ownership. New
// accounts start unverified; whether that blocks login is the auth service's
// RequireVerifiedEmail call, not ours.
type RegistrationService struct {
	stores    storage.Bundle
	verifier  *CredentialVerifier
	mailer    notify.Mailer
	auditor   audit.Recorder
	verifyTTL time.Duration
	logger    *slog.Logger
}

func NewRegistrationService(
	stores storage.Bundle,
	verifier *CredentialVerifier,
	mailer notify.Mailer,
	auditor audit.Recorder,
	verifyTTL time.Duration,
	logger *slog.Logger,
) *RegistrationService {
	if logger == nil {
		logger = slog.Default()
	}
	if verifyTTL <= 0 {
		verifyTTL = 24 * time.Hour
	}
	return &RegistrationService{
		stores:    stores,
		verifier:  verifier,
		mailer:    mailer,
		auditor:   auditor,
		verifyTTL: verifyTTL,
		logger:    logger,
	}
}

// Register creates a user in the tenant and mails a verification token.
// The email is normalized before the uniqueness check so CASE@example.com
// and case@example.com are the same account.
func (s *RegistrationService) Register(ctx context.Context, tenantID int64, email, password, ip, userAgent string) (*model.User, error) {
	email = model.NormalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperr.Validation("invalid email address")
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	hash, err := s.verifier.Hash(password)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("hashing password: %w", err))
	}

	user := &model.User{
		TenantID:     tenantID,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		IsVerified:   false,
	}
	if err := s.stores.Users(tenantID).Create(ctx, user); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, apperr.Validation("email already registered")
		}
		return nil, apperr.Internal(fmt.Errorf("creating user: %w", err))
	}

	if err := s.auditor.Record(ctx, audit.Event{
		TenantID:  tenantID,
		ActorID:   user.ID,
		Action:    audit.ActionUserRegistered,
		Success:   true,
		IP:        ip,
		UserAgent: userAgent,
	}); err != nil {
		return nil, apperr.Internal(err)
	}

	if err := s.sendVerification(ctx, user); err != nil {
		// The account exists either way; the token can be re-issued later.
		s.logger.ErrorContext(ctx, "verification email failed",
			"tenant_id", tenantID, "user_id", user.ID, "error", err)
	}
	return user, nil
}

// ResendVerification issues a fresh token for an unverified account. Unknown
// and already-verified addresses return nil so the endpoint stays uniform.
func (s *RegistrationService) ResendVerification(ctx context.Context, tenantID int64, email string) error {
	user, err := s.stores.Users(tenantID).GetByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return apperr.Internal(fmt.Errorf("loading user: %w", err))
	}
	if user.IsVerified || !user.IsActive {
		return nil
	}
	if err := s.sendVerification(ctx, user); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *RegistrationService) sendVerification(ctx context.Context, user *model.User) error {
	raw, err := GenerateSecureToken(verifyTokenBytes)
	if err != nil {
		return fmt.Errorf("generating verification token: %w", err)
	}
	now := time.Now().UTC()
	token := &model.EmailVerificationToken{
		UserID:    user.ID,
		TenantID:  user.TenantID,
		TokenHash: HashToken(raw),
		ExpiresAt: now.Add(s.verifyTTL),
		CreatedAt: now,
	}
	if err := s.stores.EmailVerifications().Create(ctx, token); err != nil {
		return fmt.Errorf("storing verification token: %w", err)
	}
	return s.mailer.SendVerification(ctx, user.Email, raw)
}

// VerifyEmail consumes a verification token. Missing, expired, used and
// wrong-tenant tokens share one uniform error.
func (s *RegistrationService) VerifyEmail(ctx context.Context, tenantID int64, rawToken, ip, userAgent string) error {
	token, err := s.stores.EmailVerifications().GetByHash(ctx, HashToken(rawToken))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.TokenInvalid()
		}
		return apperr.Internal(fmt.Errorf("loading verification token: %w", err))
	}
	if token.TenantID != tenantID {
		return apperr.TokenInvalid()
	}

	now := time.Now().UTC()
	if !token.IsUsable(now) {
		return apperr.TokenInvalid()
	}
	won, err := s.stores.EmailVerifications().MarkUsed(ctx, token.ID, now)
	if err != nil {
		return apperr.Internal(fmt.Errorf("consuming verification token: %w", err))
	}
	if !won {
		return apperr.TokenInvalid()
	}

	if err := s.stores.Users(tenantID).MarkVerified(ctx, token.UserID); err != nil {
		return apperr.Internal(fmt.Errorf("marking user verified: %w", err))
	}

	if err := s.auditor.Record(ctx, audit.Event{
		TenantID:  tenantID,
		ActorID:   token.UserID,
		Action:    audit.ActionEmailVerified,
		Success:   true,
		IP:        ip,
		UserAgent: userAgent,
	}); err != nil {
		return apperr.Internal(err)
	}
	return nil
}
