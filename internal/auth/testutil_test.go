package auth

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/comptoirhq/identity/internal/audit"
	"github.com/comptoirhq/identity/internal/crypto"
	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage/memory"
)

const (
	testJWTSecret = "0123456789abcdef0123456789abcdef"
	testBoxKey    = "b0a7f6e5d4c3b2a1b0a7f6e5d4c3b2a1b0a7f6e5d4c3b2a1b0a7f6e5d4c3b2a1"

	testIP = "203.0.113.7"
	testUA = "Mozilla/5.0 (test)"

	// testPassword is what every fixture user can log in with unless a test
	// installs its own hash.
	testPassword = "correct-horse-battery-staple"

	// testTOTPSecret is a fixed base32 seed shared by every seeded MFA user.
	testTOTPSecret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
)

// Argon2id at production cost is too slow to run once per created user, so
// the verifier and the standard password hash are computed once for the whole
// package.
var (
	verifierOnce sync.Once
	verifierVal  *CredentialVerifier
	verifierErr  error

	hashOnce sync.Once
	hashVal  string
	hashErr  error
)

func testVerifier(t *testing.T) *CredentialVerifier {
	t.Helper()
	verifierOnce.Do(func() {
		verifierVal, verifierErr = NewCredentialVerifier()
	})
	require.NoError(t, verifierErr)
	return verifierVal
}

func sharedPasswordHash(t *testing.T) string {
	t.Helper()
	hashOnce.Do(func() {
		hashVal, hashErr = NewArgon2Hasher(DefaultArgon2Params()).Hash(testPassword)
	})
	require.NoError(t, hashErr)
	return hashVal
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixtureOpts carries the knobs tests turn. The defaults mirror the shipped
// configuration, scaled down where a test would otherwise have to wait.
type fixtureOpts struct {
	authCfg     AuthConfig
	limits      SessionLimits
	windows     BruteForceWindows
	mfaLimits   MFALimits
	resetLimits ResetLimits
	verifyTTL   time.Duration

	accessTTL  time.Duration
	refreshTTL time.Duration
	mfaTTL     time.Duration

	// captcha is nil for almost every test; the login flow then skips the
	// gate entirely.
	captcha CaptchaVerifier
	// resetLimiter is nil by default so the reset rate limit exercises the
	// stored-token fallback, which needs no clock control.
	resetLimiter FailureLimiter
}

func defaultFixtureOpts() fixtureOpts {
	return fixtureOpts{
		authCfg: AuthConfig{AccessTokenTTL: 15 * time.Minute},
		limits:  SessionLimits{AbsoluteLifetime: 720 * time.Hour},
		windows: BruteForceWindows{
			LockoutThreshold: 5,
			LockoutWindow:    15 * time.Minute,
			CaptchaThreshold: 3,
			CaptchaWindow:    15 * time.Minute,
		},
		mfaLimits:   MFALimits{FailThreshold: 5, FailWindow: 5 * time.Minute},
		resetLimits: ResetLimits{TokenTTL: time.Hour, MaxPerHour: 3},
		verifyTTL:   24 * time.Hour,
		accessTTL:   15 * time.Minute,
		refreshTTL:  24 * time.Hour,
		mfaTTL:      5 * time.Minute,
	}
}

// fixture wires every service against the in-memory store the same way
// cmd/api wires them against PostgreSQL.
type fixture struct {
	store   *memory.Store
	auditor *audit.Memory
	limiter *stubLimiter
	mailer  *captureMailer
	box     *crypto.SecretBox
	tokens  *JWTProvider

	auth     *AuthService
	tokenSvc *TokenService
	sessions *SessionService
	mfa      *MFAService
	resets   *PasswordResetService
	regs     *RegistrationService
	apiKeys  *APIKeyService
	tenants  *TenantService
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, defaultFixtureOpts())
}

func newFixtureWith(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()

	box, err := crypto.NewSecretBox(testBoxKey)
	require.NoError(t, err)

	f := &fixture{
		store:   memory.New(),
		auditor: &audit.Memory{},
		limiter: newStubLimiter(),
		mailer:  &captureMailer{},
		box:     box,
		tokens:  NewJWTProvider(testJWTSecret, opts.accessTTL, opts.refreshTTL, opts.mfaTTL),
	}

	logger := discardLogger()
	verifier := testVerifier(t)

	f.tokenSvc = NewTokenService(f.store, nil, logger)
	f.sessions = NewSessionService(f.store, opts.limits, opts.windows, logger)
	f.mfa = NewMFAService(f.store, box, f.limiter, f.auditor, "comptoir-test", opts.mfaLimits, logger)
	f.auth = NewAuthService(opts.authCfg, f.store, verifier, f.tokens, f.tokenSvc, f.sessions, f.mfa, opts.captcha, f.auditor, logger)
	f.resets = NewPasswordResetService(f.store, verifier, f.tokenSvc, f.sessions, f.mailer, opts.resetLimiter, f.auditor, opts.resetLimits, logger)
	f.regs = NewRegistrationService(f.store, verifier, f.mailer, f.auditor, opts.verifyTTL, logger)
	f.apiKeys = NewAPIKeyService(f.store, f.auditor, logger)
	f.tenants = NewTenantService(f.store, logger)

	return f
}

// tenant provisions an active tenant.
func (f *fixture) tenant(t *testing.T, name string) *model.Tenant {
	t.Helper()
	tenant := &model.Tenant{Name: name, IsActive: true}
	require.NoError(t, f.store.Tenants().Create(context.Background(), tenant))
	return tenant
}

// user creates an active, verified user who can log in with testPassword.
func (f *fixture) user(t *testing.T, tenantID int64, email string) *model.User {
	t.Helper()
	return f.userWith(t, tenantID, email, nil)
}

func (f *fixture) userWith(t *testing.T, tenantID int64, email string, mod func(*model.User)) *model.User {
	t.Helper()
	u := &model.User{
		TenantID:     tenantID,
		Email:        email,
		PasswordHash: sharedPasswordHash(t),
		IsActive:     true,
		IsVerified:   true,
	}
	if mod != nil {
		mod(u)
	}
	require.NoError(t, f.store.Users(tenantID).Create(context.Background(), u))
	return u
}

// login runs the full password flow for a fixture user and fails the test on
// anything but issued tokens.
func (f *fixture) login(t *testing.T, u *model.User) *LoginResult {
	t.Helper()
	res, err := f.auth.Login(context.Background(), LoginInput{
		TenantID:  u.TenantID,
		Email:     u.Email,
		Password:  testPassword,
		IP:        testIP,
		UserAgent: testUA,
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	require.False(t, res.MFARequired)
	require.False(t, res.CaptchaRequired)
	return res
}

// seedMFA installs an enabled TOTP secret and a fresh recovery-code set
// directly in the store, bypassing the setup flow so tests decide which time
// window gets consumed first.
func (f *fixture) seedMFA(t *testing.T, u *model.User) (secret string, recovery []string) {
	t.Helper()
	ctx := context.Background()

	sealed, err := f.box.Seal(testTOTPSecret)
	require.NoError(t, err)
	require.NoError(t, f.store.MFA().UpsertSecret(ctx, &model.MFASecret{
		UserID:   u.ID,
		TenantID: u.TenantID,
		Secret:   sealed,
		Enabled:  true,
	}))

	recovery, err = GenerateRecoveryCodes(recoveryCodeCount)
	require.NoError(t, err)
	hashes := make([]string, len(recovery))
	for i, c := range recovery {
		hashes[i] = HashToken(c)
	}
	require.NoError(t, f.store.MFA().ReplaceRecoveryCodes(ctx, u.ID, u.TenantID, hashes))

	return testTOTPSecret, recovery
}

// recordFailures writes n failed attempts at the given instant, letting
// window tests reach thresholds without running real logins.
func (f *fixture) recordFailures(t *testing.T, identifier, ip string, n int, at time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, f.store.LoginAttempts().Record(context.Background(), &model.LoginAttempt{
			Identifier: identifier,
			IP:         ip,
			UserAgent:  testUA,
			Success:    false,
			CreatedAt:  at,
		}))
	}
}

// totpCode mints the 6-digit code for the given instant, same parameters as
// the service.
func totpCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

// stubLimiter is a deterministic in-memory FailureLimiter. Windows run
// against the wall clock like the Redis one, but fail and reset on command.
type stubLimiter struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Time

	// failErr, when set, makes every call fail so tests can watch callers
	// degrade.
	failErr error
}

var _ FailureLimiter = (*stubLimiter)(nil)

func newStubLimiter() *stubLimiter {
	return &stubLimiter{counts: map[string]int64{}, expires: map[string]time.Time{}}
}

func (l *stubLimiter) Count(_ context.Context, key string) (int64, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return 0, 0, l.failErr
	}
	exp, ok := l.expires[key]
	if !ok || !time.Now().Before(exp) {
		return 0, 0, nil
	}
	return l.counts[key], time.Until(exp), nil
}

func (l *stubLimiter) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return 0, 0, l.failErr
	}
	if exp, ok := l.expires[key]; !ok || !time.Now().Before(exp) {
		l.counts[key] = 0
		l.expires[key] = time.Now().Add(window)
	}
	l.counts[key]++
	return l.counts[key], time.Until(l.expires[key]), nil
}

func (l *stubLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return l.failErr
	}
	delete(l.counts, key)
	delete(l.expires, key)
	return nil
}

// count reads the live counter without touching the window.
func (l *stubLimiter) count(key string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[key]
}

// sentMail is one captured outbound message.
type sentMail struct {
	To    string
	Token string
}

// captureMailer records outbound tokens instead of delivering anything.
type captureMailer struct {
	mu            sync.Mutex
	resets        []sentMail
	verifications []sentMail

	// failNext makes the next send of either kind return this error.
	failNext error
}

func (m *captureMailer) SendPasswordReset(_ context.Context, to, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	m.resets = append(m.resets, sentMail{To: to, Token: token})
	return nil
}

func (m *captureMailer) SendVerification(_ context.Context, to, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	m.verifications = append(m.verifications, sentMail{To: to, Token: token})
	return nil
}

func (m *captureMailer) resetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resets)
}

func (m *captureMailer) lastReset(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.resets, "no password reset email was captured")
	return m.resets[len(m.resets)-1]
}

func (m *captureMailer) verificationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.verifications)
}

func (m *captureMailer) lastVerification(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.verifications, "no verification email was captured")
	return m.verifications[len(m.verifications)-1]
}

// stubCaptcha stands in for a provider: fixed site key, scripted verdict.
type stubCaptcha struct {
	mu      sync.Mutex
	err     error
	siteKey string
	seen    []string
}

var _ CaptchaVerifier = (*stubCaptcha)(nil)

func (c *stubCaptcha) Enabled() bool   { return true }
func (c *stubCaptcha) SiteKey() string { return c.siteKey }

func (c *stubCaptcha) Verify(_ context.Context, token, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, token)
	return c.err
}

func (c *stubCaptcha) verified() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.seen))
	copy(out, c.seen)
	return out
}
