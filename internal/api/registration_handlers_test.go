package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comptoirhq/identity/internal/apperr"
	"github.com/comptoirhq/identity/internal/model"
)

func TestRegisterThenVerifyOverHTTP(t *testing.T) {
	f := newServerFixture(t)
	tenant := f.tenant(t, "acme")

	rr := f.request(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":    "  NewComer@Example.COM ",
		"password": testPassword,
	}, asTenant(tenant.ID))

	require.Equal(t, http.StatusCreated, rr.Code, "body: %s", rr.Body.String())
	var created struct {
		ID         string `json:"id"`
		Email      string `json:"email"`
		IsVerified bool   `json:"is_verified"`
	}
	decodeBody(t, rr, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "newcomer@example.com", created.Email, "email is normalized on the way in")
	assert.False(t, created.IsVerified)

	mail := f.mailer.lastVerification(t)
	assert.Equal(t, "newcomer@example.com", mail.To)
	require.NotEmpty(t, mail.Token)

	verify := f.request(t, http.MethodPost, "/api/v1/auth/verify-email", map[string]string{
		"token": mail.Token,
	}, asTenant(tenant.ID))
	assert.Equal(t, http.StatusOK, verify.Code)
	assert.Contains(t, verify.Body.String(), "email verified")

	// The account is live: a login comes back with tokens and the profile
	// shows the flag flipped.
	login := f.request(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    "newcomer@example.com",
		"password": testPassword,
	}, asTenant(tenant.ID))
	pair := tokenPair(t, login)

	me := f.request(t, http.MethodGet, "/api/v1/auth/me", nil, asBearer(pair.AccessToken))
	require.Equal(t, http.StatusOK, me.Code)
	assert.Contains(t, me.Body.String(), `"is_verified":true`)
}

func TestRegisterValidationOverHTTP(t *testing.T) {
	f := newServerFixture(t)
	tenant := f.tenant(t, "acme")
	f.user(t, tenant.ID, "taken@example.com")

	cases := map[string]struct {
		body     map[string]string
		contains string
	}{
		"missing password": {
			body:     map[string]string{"email": "a@example.com"},
			contains: "required",
		},
		"malformed email": {
			body:     map[string]string{"email": "not an address", "password": testPassword},
			contains: "invalid email",
		},
		"weak password": {
			body:     map[string]string{"email": "a@example.com", "password": "short"},
			contains: "12 characters",
		},
		"duplicate email": {
			body:     map[string]string{"email": "Taken@example.com", "password": testPassword},
			contains: "already registered",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rr := f.request(t, http.MethodPost, "/api/v1/auth/register", tc.body, asTenant(tenant.ID))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, apperr.CodeValidation, errCode(t, rr))
			assert.Contains(t, rr.Body.String(), tc.contains)
		})
	}
}

func TestVerifyEmailRejectsBadTokens(t *testing.T) {
	f := newServerFixture(t)
	tenant := f.tenant(t, "acme")

	rr := f.request(t, http.MethodPost, "/api/v1/auth/verify-email", map[string]string{
		"token": "never-issued",
	}, asTenant(tenant.ID))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, apperr.CodeTokenInvalid, errCode(t, rr))
}

func TestResendVerificationIsUniformOverHTTP(t *testing.T) {
	f := newServerFixture(t)
	tenant := f.tenant(t, "acme")
	f.userWith(t, tenant.ID, "pending@example.com", func(u *model.User) {
		u.IsVerified = false
	})

	resend := func(email string) *httptest.ResponseRecorder {
		return f.request(t, http.MethodPost, "/api/v1/auth/verify-email/resend", map[string]string{
			"email": email,
		}, asTenant(tenant.ID))
	}

	known := resend("Pending@example.com")
	require.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, 1, f.mailer.verificationCount())
	assert.Equal(t, "pending@example.com", f.mailer.lastVerification(t).To)

	unknown := resend("ghost@example.com")
	require.Equal(t, http.StatusOK, unknown.Code)
	assert.Equal(t, 1, f.mailer.verificationCount(), "unknown address gets no mail")
	assert.Equal(t, known.Body.String(), unknown.Body.String(),
		"known and unknown addresses answer with identical bodies")
}
