package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comptoirhq/identity/internal/apperr"
)

func TestChangePasswordOverHTTP(t *testing.T) {
	f := newServerFixture(t)
	tenant := f.tenant(t, "acme")
	user := f.user(t, tenant.ID, "owner@example.com")

	phone := f.login(t, user)
	laptop := f.login(t, user)

	const newPassword = "rotated-by-the-owner"
	change := f.request(t, http.MethodPost, "/api/v1/auth/change-password", map[string]string{
		"current_password": testPassword,
		"new_password":     newPassword,
		"keep_session_id":  laptop.SessionID,
	}, asBearer(laptop.AccessToken))
	require.Equal(t, http.StatusOK, change.Code, "body: %s", change.Body.String())
	assert.Contains(t, change.Body.String(), "password changed")

	// The old password is dead.
	stale := f.request(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    user.Email,
		"password": testPassword,
	}, asTenant(tenant.ID))
	assert.Equal(t, http.StatusUnauthorized, stale.Code)
	assert.Equal(t, apperr.CodeInvalidCredentials, errCode(t, stale))

	// Every other session went with it; the named one survived.
	phoneRefresh := f.request(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": phone.RefreshToken,
	})
	assert.Equal(t, http.StatusUnauthorized, phoneRefresh.Code)

	laptopRefresh := f.request(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": laptop.RefreshToken,
	})
	assert.Equal(t, http.StatusOK, laptopRefresh.Code, "body: %s", laptopRefresh.Body.String())

	fresh := f.request(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    user.Email,
		"password": newPassword,
	}, asTenant(tenant.ID))
	assert.Equal(t, http.StatusOK, fresh.Code, "body: %s", fresh.Body.String())
}

func TestChangePasswordValidation(t *testing.T) {
	f := newServerFixture(t)
	tenant := f.tenant(t, "acme")
	user := f.user(t, tenant.ID, "owner@example.com")
	pair := f.login(t, user)

	cases := map[string]struct {
		body    map[string]string
		message string
	}{
		"wrong current password": {
			body: map[string]string{
				"current_password": "not-the-real-password",
				"new_password":     "rotated-by-the-owner",
			},
			message: "current password is incorrect",
		},
		"weak new password": {
			body: map[string]string{
				"current_password": testPassword,
				"new_password":     "short",
			},
			message: "at least 12 characters",
		},
		"missing fields": {
			body:    map[string]string{"current_password": testPassword},
			message: "current_password and new_password are required",
		},
		"garbage keep_session_id": {
			body: map[string]string{
				"current_password": testPassword,
				"new_password":     "rotated-by-the-owner",
				"keep_session_id":  "not-a-uuid",
			},
			message: "keep_session_id must be a UUID",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rr := f.request(t, http.MethodPost, "/api/v1/auth/change-password", tc.body, asBearer(pair.AccessToken))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, apperr.CodeValidation, errCode(t, rr))
			assert.Contains(t, rr.Body.String(), tc.message)
		})
	}
}

func TestMeRequiresABearerToken(t *testing.T) {
	f := newServerFixture(t)

	rr := f.request(t, http.MethodGet, "/api/v1/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, apperr.CodeTokenInvalid, errCode(t, rr))
}
