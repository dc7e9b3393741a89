package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comptoirhq/identity/internal/apperr"
	"github.com/comptoirhq/identity/internal/audit"
	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
)

var recoveryCodePattern = regexp.MustCompile(`^[ABCDEFGHJKLMNPQRSTUVWXYZ23456789]{4}-[ABCDEFGHJKLMNPQRSTUVWXYZ23456789]{4}$`)

func TestMFASetupProvisionsDisabledSecret(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenant := f.tenant(t, "acme")
	user := f.user(t, tenant.ID, "enroll@example.com")

	setup, err := f.mfa.Setup(ctx, user)
	require.NoError(t, err)
	require.NotEmpty(t, setup.Secret)
	assert.True(t, strings.HasPrefix(setup.OTPAuthURL, "otpauth://totp/"))
	assert.Contains(t, setup.OTPAuthURL, "issuer=comptoir-test")
	assert.Contains(t, setup.OTPAuthURL, "secret="+setup.Secret)

	png, err := base64.StdEncoding.DecodeString(setup.QRCodePNG)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")), "qr code should be a png")

	// The stored copy is sealed and inert until Enable proves possession.
	stored, err := f.store.MFA().GetSecret(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, stored.Enabled)
	assert.True(t, strings.HasPrefix(stored.Secret, "enc:"))
	assert.NotEqual(t, setup.Secret, stored.Secret)

	plaintext, err := f.box.Open(stored.Secret)
	require.NoError(t, err)
	assert.Equal(t, setup.Secret, plaintext)

	enabled, err := f.mfa.Enabled(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestMFASetupReplacesPendingSecret(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenant := f.tenant(t, "acme")
	user := f.user(t, tenant.ID, "restart@example.com")

	first, err := f.mfa.Setup(ctx, user)
	require.NoError(t, err)
	second, err := f.mfa.Setup(ctx, user)
	require.NoError(t, err)
	require.NotEqual(t, first.Secret, second.Secret)

	// Only the latest pending secret can complete enrollment.
	_, err = f.mfa.Enable(ctx, user, totpCode(t, first.Secret, time.Now()), testIP, testUA)
	assert.ErrorIs(t, err, apperr.InvalidMFACode())

	_, err = f.mfa.Enable(ctx, user, totpCode(t, second.Secret, time.Now()), testIP, testUA)
	assert.NoError(t, err)
}

func TestMFASetupRejectedWhileEnabled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenant := f.tenant(t, "acme")
	user := f.user(t, tenant.ID, "enabled@example.com")
	f.seedMFA(t, user)

	_, err := f.mfa.Setup(ctx, user)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
}

func TestMFAEnableActivatesAndIssuesRecoveryCodes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenant := f.tenant(t, "acme")
	user := f.user(t, tenant.ID, "activate@example.com")

	setup, err := f.mfa.Setup(ctx, user)
	require.NoError(t, err)

	codes, err := f.mfa.Enable(ctx, user, totpCode(t, setup.Secret, time.Now()), testIP, testUA)
	require.NoError(t, err)
	require.Len(t, codes, recoveryCodeCount)

	seen := map[string]bool{}
	for _, c := range codes {
		assert.Regexp(t, recoveryCodePattern, c)
		assert.False(t, seen[c], "recovery codes must be distinct")
		seen[c] = true
	}

	enabled, err := f.mfa.Enabled(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, enabled)

	event, ok := f.auditor.Last(audit.ActionMFAEnabled)
	require.True(t, ok)
	assert.Equal(t, user.ID, event.ActorID)
	assert.Equal(t, tenant.ID, event.TenantID)
	assert.True(t, event.Success)
}

func TestMFAEnableRejectsWrongCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenant := f.tenant(t, "acme")
	user := f.user(t, tenant.ID, "fumble@example.com")

	_, err := f.mfa.Setup(ctx, user)
	require.NoError(t, err)

	_, err = f.mfa.Enable(ctx, user, "000000", testIP, testUA)
	assert.ErrorIs(t, err, apperr.InvalidMFACode())

	enabled, err := f.mfa.Enabled(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, enabled, "a failed enable must not activate the secret")

	stored, err := f.store.MFA().ListRecoveryCodes(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, stored, "no recovery codes before enrollment completes")

	_, ok := f.auditor.Last(audit.ActionMFAEnabled)
	assert.False(t, ok)
}

func TestMFAEnableWithoutSetup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenant := f.tenant(t, "acme")
	user := f.user(t, tenant.ID, "eager@example.com")

	_, err := f.mfa.Enable(ctx, user, "123456", testIP, testUA)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
}

func TestMFAVerifyCodeDriftTolerance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenant := f.tenant(t, "acme")

	// Each case gets its own user so the consumed windows cannot interact.
	t.Run("current window", func(t *testing.T) {
		user := f.user(t, tenant.ID, "drift-now@example.com")
		secret, _ := f.seedMFA(t, user)
		assert.NoError(t, f.mfa.VerifyCode(ctx, user, totpCode(t, secret, time.Now())))
	})

	t.Run("one step behind", func(t *testing.T) {
		user := f.user(t, tenant.ID, "drift-behind@example.com")
		secret, _ := f.seedMFA(t, user)
		assert.NoError(t, f.mfa.VerifyCode(ctx, user, totpCode(t, secret, time.Now().Add(-totpPeriod*time.Second))))
	})

	t.Run("one step ahead", func(t *testing.T) {
		user := f.user(t, tenant.ID, "drift-ahead@example.com")
		secret, _ := f.seedMFA(t, user)
		assert.NoError(t, f.mfa.VerifyCode(ctx, user, totpCode(t, secret, time.Now().Add(totpPeriod*time.Second))))
	})

	t.Run("two steps out", func(t *testing.T) {
		user := f.user(t, tenant.ID, "drift-far@example.com")
		secret, _ := f.seedMFA(t, user)
		err := f.mfa.VerifyCode(ctx, user, totpCode(t, secret, time.Now().Add(-2*totpPeriod*time.Second)))
		assert.ErrorIs(t, err, apperr.InvalidMFACode())

		err = f.mfa.VerifyCode(ctx, user, totpCode(t, secret, time.Now().Add(2*totpPeriod*time.Second)))
		assert.ErrorIs(t, err, apperr.InvalidMFACode())
	})
}

func TestMFAVerifyCodeRejectsReplay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenant := f.tenant(t, "acme")
	user := f.user(t, tenant.ID, "replay@example.com")
	secret, _ := f.seedMFA(t, user)

	code := totpCode(t, secret, time.Now())
	require.NoError(t, f.mfa.VerifyCode(ctx, user, code))

	// The same code in the same window is treated like a wrong one.
	err := f.mfa.VerifyCode(ctx, user, code)
	assert.ErrorIs(t, err, apperr.InvalidMFACode())
}

func TestMFAVerifyCodeCounterIsMonotonic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenant := f.tenant(t, "acme")
	user := f.user(t, tenant.ID, "monotonic@example.com")
	secret, _ := f.seedMFA(t, user)

	ahead := totpCode(t, secret, time.Now().Add(totpPeriod*time.Second))
	require.NoError(t, f.mfa.VerifyCode(ctx, user, ahead))

	// Once a later window is consumed, earlier windows are dead even though
	// their codes still fall inside the drift tolerance.
	current := totpCode(t, secret, time.Now())
	err := f.mfa.VerifyCode(ctx, user, current)
	assert.ErrorIs(t, err, apperr.InvalidMFACode())
}

func TestMFAVerifyCodeRequiresEnabledSecret(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenant := f.tenant(t, "acme")

	t.Run("no secret", func(t *testing.T) {
		user := f.user(t, tenant.ID, "bare@example.com")
		err := f.mfa.VerifyCode(ctx, user, "123456")
		assert.ErrorIs(t, err, ErrMFANotEnabled)
	})

	t.Run("pending secret", func(t *testing.T) {
		user := f.user(t, tenant.ID, "pending@example.com")
		sealed, err := f.box.Seal(testTOTPSecret)
		require.NoError(t, err)
		require.NoError(t, f.store.MFA().UpsertSecret(ctx, &model.MFASecret{
			UserID:   user.ID,
			TenantID: user.TenantID,
			Secret:   sealed,
			Enabled:  false,
		}))
		err = f.mfa.VerifyCode(ctx, user, totpCode(t, testTOTPSecret, time.Now()))
		assert.ErrorIs(t, err, ErrMFANotEnabled)
	})
}

func TestMFAFailureLockout(t *testing.T) {
	ctx := context.Background()
	opts := defaultFixtureOpts()
	opts.mfaLimits = MFALimits{FailThreshold: 3, FailWindow: 5 * time.Minute}
	f := newFixtureWith(t, opts)

	tenant := f.tenant(t, "acme")
	user := f.user(t, tenant.ID, "hammered@example.com")
	secret, _ := f.seedMFA(t, user)

	for i := 0; i < 2; i++ {
		err := f.mfa.VerifyCode(ctx, user, "000000")
		assert.ErrorIs(t, err, apperr.InvalidMFACode())
	}
	assert.Equal(t, int64(2), f.limiter.count(mfaFailKey(user.ID)))

	// The failure that reaches the threshold reports the lockout itself.
	err := f.mfa.VerifyCode(ctx, user, "000000")
	require.ErrorIs(t, err, apperr.MFALockout(0))
	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Positive(t, ae.RetryAfter)

	event, ok := f.auditor.Last(audit.ActionMFALockout)
	require.True(t, ok)
	assert.Equal(t, user.ID, event.ActorID)
	assert.False(t, event.Success)

	// Past the threshold everything is lockout, including the right code.
	err = f.mfa.VerifyCode(ctx, user, "000000")
	assert.ErrorIs(t, err, apperr.MFALockout(0))
	err = f.mfa.VerifyCode(ctx, user, totpCode(t, secret, time.Now()))
	assert.ErrorIs(t, err, apperr.MFALockout(0))

	// Only one lockout event is recorded, on the crossing failure.
	assert.Equal(t, 1, f.auditor.CountAction(audit.ActionMFALockout))

	// Once the window clears, verification works again.
	require.NoError(t, f.limiter.Reset(ctx, mfaFailKey(user.ID)))
	assert.NoError(t, f.mfa.VerifyCode(ctx, user, totpCode(t, secret, time.Now())))
}

func TestMFAFailureCounterResetsOnSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenant := f.tenant(t, "acme")
	user := f.user(t, tenant.ID, "redeemed@example.com")
	secret, _ := f.seedMFA(t, user)

	for i := 0; i < 2; i++ {
		_ = f.mfa.VerifyCode(ctx, user, "000000")
	}
	require.Equal(t, int64(2), f.limiter.count(mfaFailKey(user.ID)))

	require.NoError(t, f.mfa.VerifyCode(ctx, user, totpCode(t, secret, time.Now())))
	assert.Equal(t, int64(0), f.limiter.count(mfaFailKey(user.ID)))
}

func TestMFALimiterOutageFailsOpen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenant := f.tenant(t, "acme")
	user := f.user(t, tenant.ID, "outage@example.com")
	secret, _ := f.seedMFA(t, user)

	f.limiter.failErr = errors.New("counter backend down")

	// A broken counter degrades to no lockout, never to a verification error.
	err := f.mfa.VerifyCode(ctx, user, "000000")
	assert.ErrorIs(t, err, apperr.InvalidMFACode())

	assert.NoError(t, f.mfa.VerifyCode(ctx, user, totpCode(t, secret, time.Now())))
}

func TestMFANilLimiterDisablesLockout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenant := f.tenant(t, "acme")
	user := f.user(t, tenant.ID, "unlimited@example.com")
	f.seedMFA(t, user)

	svc := NewMFAService(f.store, f.box, nil, f.auditor, "comptoir-test", MFALimits{FailThreshold: 3, FailWindow: time.Minute}, discardLogger())
	for i := 0; i < 10; i++ {
		err := svc.VerifyCode(ctx, user, "000000")
		assert.ErrorIs(t, err, apperr.InvalidMFACode())
	}
}

func TestMFADisable(t *testing.T) {
	ctx := context.Background()

	t.Run("with totp code", func(t *testing.T) {
		f := newFixture(t)
		tenant := f.tenant(t, "acme")
		user := f.user(t, tenant.ID, "leaver@example.com")
		secret, _ := f.seedMFA(t, user)

		require.NoError(t, f.mfa.Disable(ctx, user, totpCode(t, secret, time.Now()), testIP, testUA))

		_, err := f.store.MFA().GetSecret(ctx, user.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		codes, err := f.store.MFA().ListRecoveryCodes(ctx, user.ID)
		require.NoError(t, err)
		assert.Empty(t, codes)

		event, ok := f.auditor.Last(audit.ActionMFADisabled)
		require.True(t, ok)
		assert.Equal(t, user.ID, event.ActorID)
	})

	t.Run("with recovery code", func(t *testing.T) {
		f := newFixture(t)
		tenant := f.tenant(t, "acme")
		user := f.user(t, tenant.ID, "lost-device@example.com")
		_, recovery := f.seedMFA(t, user)

		require.NoError(t, f.mfa.Disable(ctx, user, recovery[0], testIP, testUA))

		_, err := f.store.MFA().GetSecret(ctx, user.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("wrong code leaves mfa on", func(t *testing.T) {
		f := newFixture(t)
		tenant := f.tenant(t, "acme")
		user := f.user(t, tenant.ID, "stubborn@example.com")
		f.seedMFA(t, user)

		err := f.mfa.Disable(ctx, user, "000000", testIP, testUA)
		assert.ErrorIs(t, err, apperr.InvalidMFACode())

		enabled, err := f.mfa.Enabled(ctx, user.ID)
		require.NoError(t, err)
		assert.True(t, enabled)
	})

	t.Run("not enabled", func(t *testing.T) {
		f := newFixture(t)
		tenant := f.tenant(t, "acme")
		user := f.user(t, tenant.ID, "never@example.com")

		err := f.mfa.Disable(ctx, user, "123456", testIP, testUA)
		assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
	})
}

func TestMFARegenerateRecoveryCodes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenant := f.tenant(t, "acme")
	user := f.user(t, tenant.ID, "refresh-codes@example.com")
	secret, old := f.seedMFA(t, user)

	// Regeneration is gated on a TOTP code; recovery codes do not qualify.
	_, err := f.mfa.RegenerateRecoveryCodes(ctx, user, old[0])
	assert.ErrorIs(t, err, apperr.InvalidMFACode())

	fresh, err := f.mfa.RegenerateRecoveryCodes(ctx, user, totpCode(t, secret, time.Now()))
	require.NoError(t, err)
	require.Len(t, fresh, recoveryCodeCount)

	err = f.mfa.VerifyRecoveryCode(ctx, user.ID, old[1])
	assert.ErrorIs(t, err, apperr.InvalidMFACode(), "old codes die on regeneration")
	assert.NoError(t, f.mfa.VerifyRecoveryCode(ctx, user.ID, fresh[0]))
}

func TestMFARegenerateRequiresEnabled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenant := f.tenant(t, "acme")
	user := f.user(t, tenant.ID, "codeless@example.com")

	_, err := f.mfa.RegenerateRecoveryCodes(ctx, user, "123456")
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
}

func TestVerifyRecoveryCodeConsumesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenant := f.tenant(t, "acme")
	user := f.user(t, tenant.ID, "spender@example.com")
	_, recovery := f.seedMFA(t, user)

	require.NoError(t, f.mfa.VerifyRecoveryCode(ctx, user.ID, recovery[0]))
	err := f.mfa.VerifyRecoveryCode(ctx, user.ID, recovery[0])
	assert.ErrorIs(t, err, apperr.InvalidMFACode())

	// Other codes in the set are unaffected.
	assert.NoError(t, f.mfa.VerifyRecoveryCode(ctx, user.ID, recovery[1]))

	err = f.mfa.VerifyRecoveryCode(ctx, user.ID, "ZZZZ-ZZZZ")
	assert.ErrorIs(t, err, apperr.InvalidMFACode())
}

func TestCanonicalRecoveryCode(t *testing.T) {
	cases := map[string]struct {
		in   string
		want string
		ok   bool
	}{
		"canonical":        {"WXYZ-2345", "WXYZ-2345", true},
		"lowercase":        {"wxyz-2345", "WXYZ-2345", true},
		"no separator":     {"WXYZ2345", "WXYZ-2345", true},
		"spaces":           {"  WXYZ 2345 ", "WXYZ-2345", true},
		"shifted dash":     {"WX-YZ2345", "WXYZ-2345", true},
		"too short":        {"WXYZ-234", "", false},
		"too long":         {"WXYZ-23456", "", false},
		"ambiguous letter": {"WXYI-2345", "", false},
		"ambiguous digit":  {"WXY0-2345", "", false},
		"bad separator":    {"WXYZ_2345", "", false},
		"non-ascii":        {"WXYÜ-2345", "", false},
		"empty":            {"", "", false},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, ok := canonicalRecoveryCode(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGenerateRecoveryCodes(t *testing.T) {
	codes, err := GenerateRecoveryCodes(recoveryCodeCount)
	require.NoError(t, err)
	require.Len(t, codes, recoveryCodeCount)

	seen := map[string]bool{}
	for _, c := range codes {
		assert.Regexp(t, recoveryCodePattern, c)
		seen[c] = true
	}
	assert.Len(t, seen, recoveryCodeCount)
}
