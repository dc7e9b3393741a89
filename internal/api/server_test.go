package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comptoirhq/identity/internal/api/middleware"
	"github.com/comptoirhq/identity/internal/audit"
	"github.com/comptoirhq/identity/internal/auth"
	"github.com/comptoirhq/identity/internal/crypto"
	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage/memory"
)

const (
	testJWTSecret = "9f8e7d6c5b4a392817065f4e3d2c1b0a"
	testBoxKey    = "b0a7f6e5d4c3b2a1b0a7f6e5d4c3b2a1b0a7f6e5d4c3b2a1b0a7f6e5d4c3b2a1"

	testPassword   = "correct-horse-battery-staple"
	testTOTPSecret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"

	// testClientAddr is the origin every request comes from unless a test
	// overrides it to simulate drift.
	testClientAddr = "203.0.113.7:51000"
	testUA         = "Mozilla/5.0 (test)"
)

// Request logging and error reporting go through the process-default slog
// logger; silence it for the package.
func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	os.Exit(m.Run())
}

// Argon2id at production cost is too slow to run once per seeded user; hash
// and verifier are shared across the package.
var (
	verifierOnce sync.Once
	verifierVal  *auth.CredentialVerifier
	verifierErr  error

	hashOnce sync.Once
	hashVal  string
	hashErr  error
)

func testVerifier(t *testing.T) *auth.CredentialVerifier {
	t.Helper()
	verifierOnce.Do(func() {
		verifierVal, verifierErr = auth.NewCredentialVerifier()
	})
	require.NoError(t, verifierErr)
	return verifierVal
}

func sharedPasswordHash(t *testing.T) string {
	t.Helper()
	hashOnce.Do(func() {
		hashVal, hashErr = auth.NewArgon2Hasher(auth.DefaultArgon2Params()).Hash(testPassword)
	})
	require.NoError(t, hashErr)
	return hashVal
}

// serverOpts carries the few knobs the HTTP tests turn; zero values mean the
// default wiring.
type serverOpts struct {
	captcha    auth.CaptchaVerifier
	readyCheck func(context.Context) error
	origins    []string
}

// serverFixture assembles the full HTTP stack over the in-memory store, the
// same way cmd/api assembles it over PostgreSQL. Every test gets its own
// router, store and rate-limit buckets.
type serverFixture struct {
	store  *memory.Store
	box    *crypto.SecretBox
	tokens *auth.JWTProvider
	mailer *captureMailer
	srv    *Server
}

func newServerFixture(t *testing.T) *serverFixture {
	return newServerFixtureWith(t, serverOpts{})
}

func newServerFixtureWith(t *testing.T, opts serverOpts) *serverFixture {
	t.Helper()

	box, err := crypto.NewSecretBox(testBoxKey)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	auditor := audit.NewService(store.Audit(), logger)
	tokens := auth.NewJWTProvider(testJWTSecret, 15*time.Minute, 24*time.Hour, 5*time.Minute)
	mailer := &captureMailer{}
	verifier := testVerifier(t)

	sessions := auth.NewSessionService(store, auth.SessionLimits{
		AbsoluteLifetime: 720 * time.Hour,
	}, auth.BruteForceWindows{
		LockoutThreshold: 5,
		LockoutWindow:    15 * time.Minute,
		CaptchaThreshold: 3,
		CaptchaWindow:    15 * time.Minute,
	}, logger)
	tokenSvc := auth.NewTokenService(store, nil, logger)
	mfaSvc := auth.NewMFAService(store, box, nil, auditor, "comptoir-test", auth.MFALimits{
		FailThreshold: 5,
		FailWindow:    5 * time.Minute,
	}, logger)
	authSvc := auth.NewAuthService(auth.AuthConfig{
		AccessTokenTTL: 15 * time.Minute,
	}, store, verifier, tokens, tokenSvc, sessions, mfaSvc, opts.captcha, auditor, logger)
	resets := auth.NewPasswordResetService(store, verifier, tokenSvc, sessions, mailer, nil, auditor, auth.ResetLimits{
		TokenTTL:   time.Hour,
		MaxPerHour: 3,
	}, logger)
	regs := auth.NewRegistrationService(store, verifier, mailer, auditor, 24*time.Hour, logger)
	apiKeys := auth.NewAPIKeyService(store, auditor, logger)

	srv := NewServer(Deps{
		Stores:         store,
		Tokens:         tokens,
		Auth:           authSvc,
		Registration:   regs,
		Resets:         resets,
		Sessions:       sessions,
		MFA:            mfaSvc,
		APIKeys:        apiKeys,
		AllowedOrigins: opts.origins,
		ReadyCheck:     opts.readyCheck,
		Logger:         logger,
	})

	return &serverFixture{store: store, box: box, tokens: tokens, mailer: mailer, srv: srv}
}

// asTenant sets the tenant header unauthenticated endpoints require.
func asTenant(tenantID int64) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set(middleware.TenantHeader, strconv.FormatInt(tenantID, 10))
	}
}

// asBearer attaches an access token.
func asBearer(token string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

// fromAddr overrides the request origin for drift tests.
func fromAddr(remoteAddr string) func(*http.Request) {
	return func(r *http.Request) {
		r.RemoteAddr = remoteAddr
	}
}

// request runs one request through the full router and returns the recorder.
func (f *serverFixture) request(t *testing.T, method, path string, body any, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = testClientAddr
	req.Header.Set("User-Agent", testUA)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}

	rr := httptest.NewRecorder()
	f.srv.Router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), "body: %s", rr.Body.String())
}

// tokenPair asserts a 200 and decodes the shared authentication response.
func tokenPair(t *testing.T, rr *httptest.ResponseRecorder) tokenPairResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())
	var resp tokenPairResponse
	decodeBody(t, rr, &resp)
	return resp
}

// errCode decodes the stable error code out of a failure response.
func errCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	decodeBody(t, rr, &body)
	return body.Code
}

func (f *serverFixture) tenant(t *testing.T, name string) *model.Tenant {
	t.Helper()
	tenant := &model.Tenant{Name: name, IsActive: true}
	require.NoError(t, f.store.Tenants().Create(context.Background(), tenant))
	return tenant
}

// user seeds an active, verified account that can log in with testPassword.
func (f *serverFixture) user(t *testing.T, tenantID int64, email string) *model.User {
	t.Helper()
	return f.userWith(t, tenantID, email, nil)
}

func (f *serverFixture) userWith(t *testing.T, tenantID int64, email string, mod func(*model.User)) *model.User {
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

// login runs the password flow over HTTP and fails on anything but tokens.
func (f *serverFixture) login(t *testing.T, u *model.User) tokenPairResponse {
	t.Helper()
	rr := f.request(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    u.Email,
		"password": testPassword,
	}, asTenant(u.TenantID))
	resp := tokenPair(t, rr)
	require.NotEmpty(t, resp.AccessToken)
	require.False(t, resp.MFARequired)
	return resp
}

// seedMFA installs an enabled TOTP secret and fresh recovery codes directly
// in the store so tests control which time window gets consumed first.
func (f *serverFixture) seedMFA(t *testing.T, u *model.User) (secret string, recovery []string) {
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

	recovery, err = auth.GenerateRecoveryCodes(10)
	require.NoError(t, err)
	hashes := make([]string, len(recovery))
	for i, c := range recovery {
		hashes[i] = auth.HashToken(c)
	}
	require.NoError(t, f.store.MFA().ReplaceRecoveryCodes(ctx, u.ID, u.TenantID, hashes))

	return testTOTPSecret, recovery
}

// totpCode mints the 6-digit code for the given instant, same parameters as
// the MFA service.
func totpCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
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
}

func (m *captureMailer) SendPasswordReset(_ context.Context, to, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets = append(m.resets, sentMail{To: to, Token: token})
	return nil
}

func (m *captureMailer) SendVerification(_ context.Context, to, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications = append(m.verifications, sentMail{To: to, Token: token})
	return nil
}

func (m *captureMailer) lastReset(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.resets, "no password reset email was captured")
	return m.resets[len(m.resets)-1]
}

func (m *captureMailer) lastVerification(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.verifications, "no verification email was captured")
	return m.verifications[len(m.verifications)-1]
}

func (m *captureMailer) verificationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.verifications)
}

func (m *captureMailer) resetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resets)
}

func TestHealthz(t *testing.T) {
	f := newServerFixture(t)

	rr := f.request(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"ok"`)
}

func TestReadyz(t *testing.T) {
	t.Run("no probe defaults to ready", func(t *testing.T) {
		f := newServerFixture(t)
		rr := f.request(t, http.MethodGet, "/readyz", nil)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"status":"ready"`)
	})

	t.Run("failing probe answers 503", func(t *testing.T) {
		f := newServerFixtureWith(t, serverOpts{
			readyCheck: func(context.Context) error { return errors.New("pool exhausted") },
		})
		rr := f.request(t, http.MethodGet, "/readyz", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.NotContains(t, rr.Body.String(), "pool exhausted", "probe detail stays server-side")
	})
}

func TestEdgeRateLimit(t *testing.T) {
	f := newServerFixture(t)

	// Burst is 10; the 11th rapid request from one address must bounce.
	var last *httptest.ResponseRecorder
	for i := 0; i < 11; i++ {
		last = f.request(t, http.MethodGet, "/healthz", nil)
	}
	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.NotEmpty(t, last.Header().Get("Retry-After"))

	// Another client is not affected.
	rr := f.request(t, http.MethodGet, "/healthz", nil, fromAddr("198.51.100.20:40000"))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCORSIsWiredWhenConfigured(t *testing.T) {
	f := newServerFixtureWith(t, serverOpts{origins: []string{"https://app.example.com"}})

	rr := f.request(t, http.MethodOptions, "/api/v1/auth/login", nil, func(r *http.Request) {
		r.Header.Set("Origin", "https://app.example.com")
	})
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRouteIs404(t *testing.T) {
	f := newServerFixture(t)
	rr := f.request(t, http.MethodGet, "/api/v1/definitely-not-a-route", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
