package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/apperr"
	"github.com/comptoirhq/identity/internal/audit"
	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
)

// LoginInput defines the credentials for login. CaptchaToken is only needed
// once the gate has triggered for this identifier or IP.
type LoginInput struct {
	TenantID     int64
	Email        string
	Password     string
	CaptchaToken string
	IP           string
	UserAgent    string
}

// LoginResult is the outcome of every authentication entry point. Exactly one
// of three shapes comes back: issued tokens, an MFA continuation, or a
// CAPTCHA challenge.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64
	SessionID uuid.UUID
	User      *model.User

	// MFARequired signals that the password was correct and the caller must
	// now present a second factor along with MFASessionToken.
	MFARequired     bool
	MFASessionToken string

	// CaptchaRequired signals that the gate is up; the caller retries with a
	// challenge token. Not an error: the credentials were never evaluated.
	CaptchaRequired bool
	CaptchaSiteKey  string
}

// Login runs the full state machine: lockout check, CAPTCHA gate, credential
// verification, MFA branch, issue.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	if input.TenantID <= 0 {
		return nil, apperr.Validation("tenant id is required")
	}

	// An unknown or disabled tenant answers exactly like a bad password.
	tenant, err := s.stores.Tenants().GetByID(ctx, input.TenantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.InvalidCredentials()
		}
		return nil, apperr.Internal(err)
	}
	if !tenant.IsActive {
		return nil, apperr.InvalidCredentials()
	}

	identifier := model.LoginIdentifier(input.Email, input.TenantID)

	// 1. Lockout check. Counted per identifier, so an attacker hammering one
	// account cannot lock out a whole IP and vice versa.
	if !s.cfg.TestMode {
		locked, retryAfter, err := s.sessions.LockoutState(ctx, identifier)
		if err != nil {
			return nil, err
		}
		if locked {
			if err := s.auditor.Record(ctx, audit.Event{
				TenantID:  input.TenantID,
				Action:    audit.ActionLoginAttemptLocked,
				Success:   false,
				IP:        input.IP,
				UserAgent: input.UserAgent,
				Details:   map[string]any{"identifier": identifier},
			}); err != nil {
				return nil, apperr.Internal(err)
			}
			return nil, apperr.AccountLocked(retryAfter)
		}
	}

	// 2. CAPTCHA gate. Tripped by failures counted per identifier or per IP;
	// a missing or bad challenge token yields a challenge, not an error, and
	// the password is never evaluated.
	if !s.cfg.TestMode && s.captcha.Enabled() {
		needed, err := s.sessions.NeedsCaptcha(ctx, identifier, input.IP)
		if err != nil {
			return nil, err
		}
		if needed {
			if input.CaptchaToken == "" {
				return s.captchaChallenge(), nil
			}
			if err := s.captcha.Verify(ctx, input.CaptchaToken, input.IP); err != nil {
				s.logger.WarnContext(ctx, "captcha verification failed",
					"tenant_id", input.TenantID, "ip", input.IP, "error", err)
				return s.captchaChallenge(), nil
			}
		}
	}

	// 3. Credential verification, constant-time across the user-exists
	// boundary.
	user, err := s.Authenticate(ctx, input.TenantID, input.Email, input.Password)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeInvalidCredentials) {
			s.sessions.RecordAttempt(ctx, identifier, input.IP, input.UserAgent, false)
			if auditErr := s.auditor.Record(ctx, audit.Event{
				TenantID:  input.TenantID,
				Action:    audit.ActionLoginFailed,
				Success:   false,
				IP:        input.IP,
				UserAgent: input.UserAgent,
				Details:   map[string]any{"identifier": identifier},
			}); auditErr != nil {
				return nil, apperr.Internal(auditErr)
			}
		}
		return nil, err
	}

	// 4. MFA branch. The password alone earns only a short-lived mfa_session
	// token; no session or refresh token exists yet.
	enabled, err := s.mfa.Enabled(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if enabled {
		mfaToken, err := s.tokens.GenerateMFASessionToken(user)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		if err := s.auditor.Record(ctx, audit.Event{
			TenantID:  user.TenantID,
			ActorID:   user.ID,
			Action:    audit.ActionLoginMFARequired,
			Success:   true,
			IP:        input.IP,
			UserAgent: input.UserAgent,
		}); err != nil {
			return nil, apperr.Internal(err)
		}
		return &LoginResult{MFARequired: true, MFASessionToken: mfaToken, User: user}, nil
	}

	// 5. Issue.
	return s.issueSession(ctx, user, identifier, input.IP, input.UserAgent, "password")
}

func (s *AuthService) captchaChallenge() *LoginResult {
	return &LoginResult{CaptchaRequired: true, CaptchaSiteKey: s.captcha.SiteKey()}
}

// VerifyLoginMFA completes a pending login with a TOTP code.
func (s *AuthService) VerifyLoginMFA(ctx context.Context, mfaToken, code, ip, userAgent string) (*LoginResult, error) {
	user, err := s.pendingMFAUser(ctx, mfaToken)
	if err != nil {
		return nil, err
	}
	identifier := model.LoginIdentifier(user.Email, user.TenantID)

	if err := s.mfa.VerifyCode(ctx, user, code); err != nil {
		return nil, s.mfaFailure(ctx, user, identifier, ip, userAgent, "mfa_totp", err)
	}

	return s.issueSession(ctx, user, identifier, ip, userAgent, "mfa_totp")
}

// VerifyLoginRecoveryCode completes a pending login with a single-use
// recovery code instead of a TOTP code.
func (s *AuthService) VerifyLoginRecoveryCode(ctx context.Context, mfaToken, code, ip, userAgent string) (*LoginResult, error) {
	user, err := s.pendingMFAUser(ctx, mfaToken)
	if err != nil {
		return nil, err
	}
	identifier := model.LoginIdentifier(user.Email, user.TenantID)

	if err := s.mfa.VerifyRecoveryCode(ctx, user.ID, code); err != nil {
		return nil, s.mfaFailure(ctx, user, identifier, ip, userAgent, "mfa_recovery_code", err)
	}

	return s.issueSession(ctx, user, identifier, ip, userAgent, "mfa_recovery_code")
}

// pendingMFAUser resolves the user behind an mfa_session token. Every token
// problem is a uniform credential failure.
func (s *AuthService) pendingMFAUser(ctx context.Context, mfaToken string) (*model.User, error) {
	claims, err := s.tokens.ValidateToken(mfaToken, TokenTypeMFASession)
	if err != nil {
		return nil, apperr.InvalidCredentials()
	}

	user, err := s.stores.Users(claims.TenantID).GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.InvalidCredentials()
		}
		return nil, apperr.Internal(err)
	}
	if !user.IsActive {
		return nil, apperr.InvalidCredentials()
	}
	return user, nil
}

// mfaFailure records a failed second-factor attempt so it feeds the same
// brute-force windows as a wrong password, then passes the service error
// through.
func (s *AuthService) mfaFailure(ctx context.Context, user *model.User, identifier, ip, userAgent, method string, cause error) error {
	if errors.Is(cause, ErrMFANotEnabled) {
		return apperr.InvalidCredentials()
	}
	if apperr.IsCode(cause, apperr.CodeInvalidMFACode) || apperr.IsCode(cause, apperr.CodeMFALockout) {
		s.sessions.RecordAttempt(ctx, identifier, ip, userAgent, false)
		if auditErr := s.auditor.Record(ctx, audit.Event{
			TenantID:  user.TenantID,
			ActorID:   user.ID,
			Action:    audit.ActionLoginFailed,
			Success:   false,
			IP:        ip,
			UserAgent: userAgent,
			Details:   map[string]any{"method": method},
		}); auditErr != nil {
			return apperr.Internal(auditErr)
		}
	}
	return cause
}

// Refresh rotates a refresh token: decode, blacklist check, replay check,
// session liveness, one-shot rotation. A replayed token triggers mass
// revocation of the user's tokens but answers like any other bad token.
func (s *AuthService) Refresh(ctx context.Context, rawToken, ip, userAgent string) (*LoginResult, error) {
	claims, err := s.tokens.ValidateToken(rawToken, TokenTypeRefresh)
	if err != nil {
		return nil, apperr.TokenInvalid()
	}
	jti := claims.JTI()
	if jti == uuid.Nil {
		return nil, apperr.TokenInvalid()
	}

	revoked, err := s.tokenSvc.IsRevoked(ctx, jti)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, apperr.TokenInvalid()
	}

	stored, err := s.tokenSvc.Verify(ctx, jti, rawToken)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeTokenReplayDetected) {
			return nil, s.handleReplay(ctx, claims, jti, ip, userAgent)
		}
		return nil, err
	}

	session, err := s.stores.Sessions().GetByID(ctx, stored.SessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.TokenInvalid()
		}
		return nil, apperr.Internal(err)
	}
	now := time.Now()
	if !session.IsActive(now) {
		if session.RevokedAt == nil && !now.Before(session.AbsoluteExpiry) {
			// The ceiling cannot be rotated around; the user re-authenticates.
			return nil, apperr.SessionAbsolutelyExpired()
		}
		return nil, apperr.TokenInvalid()
	}

	user, err := s.stores.Users(stored.TenantID).GetByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.TokenInvalid()
		}
		return nil, apperr.Internal(err)
	}
	if !user.IsActive {
		return nil, apperr.TokenInvalid()
	}

	newJTI := uuid.New()
	newRaw, newExpiry, err := s.tokens.GenerateRefreshToken(user, newJTI)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	if _, err := s.tokenSvc.Rotate(ctx, RotateParams{
		Old:            stored,
		NewJTI:         newJTI,
		NewRawToken:    newRaw,
		NewExpiresAt:   newExpiry,
		AbsoluteExpiry: session.AbsoluteExpiry,
	}); err != nil {
		if apperr.IsCode(err, apperr.CodeTokenReplayDetected) {
			return nil, s.handleReplay(ctx, claims, jti, ip, userAgent)
		}
		return nil, err
	}

	accessToken, _, err := s.tokens.GenerateAccessToken(user)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	s.sessions.Touch(ctx, session.ID)

	if err := s.auditor.Record(ctx, audit.Event{
		TenantID:  user.TenantID,
		ActorID:   user.ID,
		SessionID: session.ID,
		Action:    audit.ActionTokenRefreshed,
		Success:   true,
		IP:        ip,
		UserAgent: userAgent,
		Details:   map[string]any{"old_jti": jti.String(), "new_jti": newJTI.String()},
	}); err != nil {
		return nil, apperr.Internal(err)
	}

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: newRaw,
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
		SessionID:    session.ID,
		User:         user,
	}, nil
}

// handleReplay is the response to a consumed token being presented again:
// burn everything the user holds, record the event, and answer exactly like
// any invalid token so the presenter learns nothing.
func (s *AuthService) handleReplay(ctx context.Context, claims *Claims, jti uuid.UUID, ip, userAgent string) error {
	revoked, err := s.tokenSvc.RevokeAllForUser(ctx, claims.UserID)
	if err != nil {
		s.logger.ErrorContext(ctx, "mass revocation after replay failed",
			"user_id", claims.UserID, "error", err)
	}

	s.logger.WarnContext(ctx, "refresh token replay detected",
		"user_id", claims.UserID, "tenant_id", claims.TenantID,
		"jti", jti, "tokens_revoked", revoked, "ip", ip)

	if err := s.auditor.Record(ctx, audit.Event{
		TenantID:  claims.TenantID,
		ActorID:   claims.UserID,
		Action:    audit.ActionTokenReplayDetected,
		Success:   false,
		IP:        ip,
		UserAgent: userAgent,
		Details:   map[string]any{"jti": jti.String(), "tokens_revoked": revoked},
	}); err != nil {
		return apperr.Internal(err)
	}

	return apperr.TokenInvalid()
}

// LogoutInput names what to terminate. All fields are optional; whatever is
// present and owned by the caller gets revoked, and nothing reports whether
// it matched.
type LogoutInput struct {
	RefreshToken string
	SessionID    *uuid.UUID
	AllSessions  bool

	// ActorID and TenantID come from the optional bearer token.
	ActorID   uuid.UUID
	TenantID  int64
	IP        string
	UserAgent string
}

// Logout revokes the presented refresh token and its session, a named owned
// session, or every session of the authenticated user.
func (s *AuthService) Logout(ctx context.Context, input LogoutInput) error {
	now := time.Now().UTC()
	tenantID := input.TenantID
	actorID := input.ActorID
	var sessionsClosed int64
	var tokenRevoked bool

	if input.RefreshToken != "" {
		claims, err := s.tokens.ValidateToken(input.RefreshToken, TokenTypeRefresh)
		if err == nil {
			stored, err := s.stores.RefreshTokens().GetByJTI(ctx, claims.JTI())
			if err == nil && SecureCompareTokens(HashToken(input.RefreshToken), stored.TokenHash) {
				if err := s.tokenSvc.Revoke(ctx, stored.JTI); err != nil {
					return err
				}
				if _, err := s.stores.Sessions().Revoke(ctx, stored.SessionID, now); err != nil {
					return apperr.Internal(err)
				}
				tokenRevoked = true
				sessionsClosed++
				tenantID = stored.TenantID
				if actorID == uuid.Nil {
					actorID = stored.UserID
				}
			}
		}
	}

	if input.SessionID != nil && input.ActorID != uuid.Nil {
		ok, err := s.sessions.Terminate(ctx, *input.SessionID, input.ActorID)
		if err != nil {
			return err
		}
		if ok {
			sessionsClosed++
		}
	}

	if input.AllSessions && input.ActorID != uuid.Nil {
		n, err := s.sessions.TerminateAllForUser(ctx, input.ActorID, nil)
		if err != nil {
			return err
		}
		if _, err := s.tokenSvc.RevokeAllForUser(ctx, input.ActorID); err != nil {
			return err
		}
		sessionsClosed += n
	}

	// Nothing identifiable was touched and nobody was authenticated; there
	// is no tenant to book the event under.
	if tenantID == 0 {
		return nil
	}

	if err := s.auditor.Record(ctx, audit.Event{
		TenantID:  tenantID,
		ActorID:   actorID,
		Action:    audit.ActionLogout,
		Success:   true,
		IP:        input.IP,
		UserAgent: input.UserAgent,
		Details: map[string]any{
			"all_sessions":    input.AllSessions,
			"sessions_closed": sessionsClosed,
			"token_revoked":   tokenRevoked,
		},
	}); err != nil {
		return apperr.Internal(err)
	}
	return nil
}
