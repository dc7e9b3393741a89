package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/apperr"
	"github.com/comptoirhq/identity/internal/audit"
	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
)

// AuthConfig holds the login-flow knobs of the auth service.
type AuthConfig struct {
	AccessTokenTTL time.Duration
	// RequireVerifiedEmail makes unverified accounts fail login with the
	// same uniform error as a wrong password.
	RequireVerifiedEmail bool
	// TestMode disables the lockout and CAPTCHA gates. Integration rigs
	// only; config.Load refuses it in production.
	TestMode bool
}

// AuthService orchestrates the authentication flow: the login state machine,
// token refresh and logout. It is agnostic of the HTTP transport and of the
// storage backend.
type AuthService struct {
	cfg      AuthConfig
	stores   storage.Bundle
	verifier *CredentialVerifier
	tokens   TokenProvider
	tokenSvc *TokenService
	sessions *SessionService
	mfa      *MFAService
	captcha  CaptchaVerifier
	auditor  audit.Recorder
	logger   *slog.Logger
}

func NewAuthService(
	cfg AuthConfig,
	stores storage.Bundle,
	verifier *CredentialVerifier,
	tokens TokenProvider,
	tokenSvc *TokenService,
	sessions *SessionService,
	mfa *MFAService,
	captcha CaptchaVerifier,
	auditor audit.Recorder,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	if captcha == nil {
		captcha = disabledCaptcha{}
	}
	return &AuthService{
		cfg:      cfg,
		stores:   stores,
		verifier: verifier,
		tokens:   tokens,
		tokenSvc: tokenSvc,
		sessions: sessions,
		mfa:      mfa,
		captcha:  captcha,
		auditor:  auditor,
		logger:   logger,
	}
}

// issueSession is the shared terminal stage of every successful
// authentication: session row, access token, stored refresh token, attempt
// record, audit. Order matters; the attempt record lands before the audit
// event.
func (s *AuthService) issueSession(ctx context.Context, user *model.User, identifier, ip, userAgent, method string) (*LoginResult, error) {
	session, err := s.sessions.Create(ctx, user, ip, userAgent)
	if err != nil {
		return nil, err
	}

	accessToken, _, err := s.tokens.GenerateAccessToken(user)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	jti := uuid.New()
	rawRefresh, refreshExpiry, err := s.tokens.GenerateRefreshToken(user, jti)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	if _, err := s.tokenSvc.Issue(ctx, IssueParams{
		JTI:            jti,
		SessionID:      session.ID,
		UserID:         user.ID,
		TenantID:       user.TenantID,
		RawToken:       rawRefresh,
		ExpiresAt:      refreshExpiry,
		AbsoluteExpiry: session.AbsoluteExpiry,
	}); err != nil {
		return nil, err
	}

	s.sessions.RecordAttempt(ctx, identifier, ip, userAgent, true)

	if err := s.stores.Users(user.TenantID).TouchLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		s.logger.WarnContext(ctx, "failed to touch last login", "user_id", user.ID, "error", err)
	}

	if err := s.auditor.Record(ctx, audit.Event{
		TenantID:  user.TenantID,
		ActorID:   user.ID,
		SessionID: session.ID,
		Action:    audit.ActionLoginSuccess,
		Success:   true,
		IP:        ip,
		UserAgent: userAgent,
		Details:   map[string]any{"method": method},
	}); err != nil {
		return nil, apperr.Internal(err)
	}

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: rawRefresh,
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
		SessionID:    session.ID,
		User:         user,
	}, nil
}
