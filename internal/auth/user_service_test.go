package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comptoirhq/identity/internal/apperr"
	"github.com/comptoirhq/identity/internal/audit"
	"github.com/comptoirhq/identity/internal/model"
)

func TestLoginUpgradesLegacyBcryptHash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenant := f.tenant(t, "acme")

	legacy, err := NewBcryptHasher().Hash(testPassword)
	require.NoError(t, err)
	user := f.userWith(t, tenant.ID, "migrated@example.com", func(u *model.User) {
		u.PasswordHash = legacy
	})

	f.login(t, user)

	reloaded, err := f.store.Users(tenant.ID).GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(reloaded.PasswordHash, "$argon2id$"),
		"the bcrypt hash is upgraded on first login")

	// The password itself did not change, so password_changed_at keeps its
	// original meaning.
	require.NotNil(t, reloaded.PasswordChangedAt)
	assert.True(t, reloaded.PasswordChangedAt.Equal(reloaded.CreatedAt))

	// And the upgraded hash still verifies.
	f.login(t, user)
}

func TestRehashPreservesPasswordChangedAt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenant := f.tenant(t, "acme")

	legacy, err := NewBcryptHasher().Hash(testPassword)
	require.NoError(t, err)
	changed := time.Date(2025, time.March, 14, 9, 26, 53, 0, time.UTC)
	user := f.userWith(t, tenant.ID, "stamped@example.com", func(u *model.User) {
		u.PasswordHash = legacy
		u.PasswordChangedAt = &changed
	})

	f.login(t, user)

	reloaded, err := f.store.Users(tenant.ID).GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.PasswordChangedAt)
	assert.True(t, reloaded.PasswordChangedAt.Equal(changed))
}

func TestModernHashIsLeftAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenant := f.tenant(t, "acme")
	user := f.user(t, tenant.ID, "current@example.com")

	f.login(t, user)

	reloaded, err := f.store.Users(tenant.ID).GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, sharedPasswordHash(t), reloaded.PasswordHash)
	assert.Nil(t, reloaded.PasswordChangedAt)
}

func TestChangePasswordRequiresCurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenant := f.tenant(t, "acme")
	user := f.user(t, tenant.ID, "careful@example.com")

	err := f.auth.ChangePassword(ctx, user, "not-the-password", newTestPassword, nil, testIP, testUA)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))

	// Nothing changed.
	f.login(t, user)
}

func TestChangePasswordEnforcesPolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenant := f.tenant(t, "acme")
	user := f.user(t, tenant.ID, "hasty@example.com")

	err := f.auth.ChangePassword(ctx, user, testPassword, "short", nil, testIP, testUA)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
	f.login(t, user)
}

func TestChangePasswordRotatesCredentialAndSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenant := f.tenant(t, "acme")
	user := f.user(t, tenant.ID, "renewed@example.com")

	other := f.login(t, user)
	current := f.login(t, user)

	// A pending reset token issued against the old password.
	require.NoError(t, f.resets.Request(ctx, tenant.ID, user.Email, testIP, testUA))
	pendingReset := f.mailer.lastReset(t).Token

	keep := current.SessionID
	require.NoError(t, f.auth.ChangePassword(ctx, user, testPassword, newTestPassword, &keep, testIP, testUA))

	// Only the session the request rode on survives.
	active, err := f.sessions.ListActiveForUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, keep, active[0].ID)

	// The other session's refresh token dies with it; the kept one rotates on.
	_, err = f.auth.Refresh(ctx, other.RefreshToken, testIP, testUA)
	assert.ErrorIs(t, err, apperr.TokenInvalid())
	_, err = f.auth.Refresh(ctx, current.RefreshToken, testIP, testUA)
	assert.NoError(t, err)

	// The stale reset token cannot roll the password back.
	err = f.resets.Confirm(ctx, tenant.ID, pendingReset, "attacker-passphrase", testIP, testUA)
	assert.ErrorIs(t, err, apperr.TokenInvalid())

	_, err = f.auth.Login(ctx, LoginInput{
		TenantID: tenant.ID, Email: user.Email, Password: testPassword, IP: testIP, UserAgent: testUA,
	})
	assert.ErrorIs(t, err, apperr.InvalidCredentials())
	res, err := f.auth.Login(ctx, LoginInput{
		TenantID: tenant.ID, Email: user.Email, Password: newTestPassword, IP: testIP, UserAgent: testUA,
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	event, ok := f.auditor.Last(audit.ActionPasswordChanged)
	require.True(t, ok)
	assert.Equal(t, user.ID, event.ActorID)
	assert.Equal(t, keep, event.SessionID)
	assert.Equal(t, int64(1), event.Details["sessions_terminated"])
}

func TestGetUserScopedToTenant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alpha := f.tenant(t, "alpha")
	beta := f.tenant(t, "beta")
	user := f.user(t, alpha.ID, "resident@example.com")

	got, err := f.auth.GetUser(ctx, alpha.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = f.auth.GetUser(ctx, beta.ID, user.ID)
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))

	_, err = f.auth.GetUser(ctx, alpha.ID, uuid.New())
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
}
