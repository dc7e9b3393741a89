package auth

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/comptoirhq/identity/internal/apperr"
	"github.com/comptoirhq/identity/internal/audit"
	"github.com/comptoirhq/identity/internal/crypto"
	"github.com/comptoirhq/identity/internal/model"
	"github.com/comptoirhq/identity/internal/storage"
)

var (
	ErrMFANotEnabled = errors.New("mfa not enabled for user")
)

// totpPeriod is the TOTP time step in seconds. Fixed at the RFC 6238 default;
// last_counter values are only meaningful against a constant period.
const totpPeriod = 30

const recoveryCodeCount = 10

// FailureLimiter counts consecutive failures in a rolling window. Backed by
// Redis in production; a nil limiter disables MFA lockout but never affects
// code verification itself.
type FailureLimiter interface {
	// Count returns the current failure count and the remaining window.
	Count(ctx context.Context, key string) (int64, time.Duration, error)
	// Incr adds a failure, starting the window on the first one.
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Reset(ctx context.Context, key string) error
}

// MFALimits configures the failure lockout.
type MFALimits struct {
	FailThreshold int
	FailWindow    time.Duration
}

// MFAService handles TOTP enrollment and validation. Secrets are sealed with
// the SecretBox before they touch storage; recovery codes are hashed like any
// other bearer secret.
type MFAService struct {
	stores  storage.Bundle
	box     *crypto.SecretBox
	limiter FailureLimiter
	auditor audit.Recorder
	issuer  string
	limits  MFALimits
	logger  *slog.Logger
}

func NewMFAService(stores storage.Bundle, box *crypto.SecretBox, limiter FailureLimiter, auditor audit.Recorder, issuer string, limits MFALimits, logger *slog.Logger) *MFAService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MFAService{
		stores:  stores,
		box:     box,
		limiter: limiter,
		auditor: auditor,
		issuer:  issuer,
		limits:  limits,
		logger:  logger,
	}
}

// MFASetup is the one-time enrollment payload. Secret and QRCodePNG leave the
// service exactly once, at setup; afterwards only the sealed form exists.
type MFASetup struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauth_url"`
	// QRCodePNG is a base64-encoded PNG of the provisioning QR code.
	QRCodePNG string `json:"qr_code_png"`
}

// Enabled reports whether the user has an activated TOTP secret.
func (s *MFAService) Enabled(ctx context.Context, userID uuid.UUID) (bool, error) {
	secret, err := s.stores.MFA().GetSecret(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, apperr.Internal(fmt.Errorf("loading mfa secret: %w", err))
	}
	return secret.Enabled, nil
}

// Setup provisions a new TOTP secret for the user in disabled state. Calling
// it again before Enable replaces the pending secret; calling it after MFA is
// enabled is rejected, the user must disable first.
func (s *MFAService) Setup(ctx context.Context, user *model.User) (*MFASetup, error) {
	existing, err := s.stores.MFA().GetSecret(ctx, user.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Internal(fmt.Errorf("loading mfa secret: %w", err))
	}
	if existing != nil && existing.Enabled {
		return nil, apperr.Validation("mfa is already enabled")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: user.Email,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("generating totp key: %w", err))
	}

	sealed, err := s.box.Seal(key.Secret())
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("sealing totp secret: %w", err))
	}

	record := &model.MFASecret{
		UserID:    user.ID,
		TenantID:  user.TenantID,
		Secret:    sealed,
		Enabled:   false,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.stores.MFA().UpsertSecret(ctx, record); err != nil {
		return nil, apperr.Internal(fmt.Errorf("storing mfa secret: %w", err))
	}

	qr, err := qrCodePNG(key)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	return &MFASetup{
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
		QRCodePNG:  qr,
	}, nil
}

func qrCodePNG(key *otp.Key) (string, error) {
	img, err := key.Image(200, 200)
	if err != nil {
		return "", fmt.Errorf("rendering qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encoding qr code: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Enable activates the pending secret after one correct code, proving the
// authenticator actually holds it. Returns the raw recovery codes, shown to
// the user exactly once.
func (s *MFAService) Enable(ctx context.Context, user *model.User, code, ip, userAgent string) ([]string, error) {
	secret, err := s.stores.MFA().GetSecret(ctx, user.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.Validation("mfa setup has not been started")
		}
		return nil, apperr.Internal(fmt.Errorf("loading mfa secret: %w", err))
	}
	if secret.Enabled {
		return nil, apperr.Validation("mfa is already enabled")
	}

	if err := s.checkCode(ctx, user.ID, secret, code); err != nil {
		return nil, err
	}

	if err := s.stores.MFA().EnableSecret(ctx, user.ID); err != nil {
		return nil, apperr.Internal(fmt.Errorf("enabling mfa: %w", err))
	}

	codes, err := s.replaceRecoveryCodes(ctx, user)
	if err != nil {
		return nil, err
	}

	if err := s.auditor.Record(ctx, audit.Event{
		TenantID:  user.TenantID,
		ActorID:   user.ID,
		Action:    audit.ActionMFAEnabled,
		Success:   true,
		IP:        ip,
		UserAgent: userAgent,
	}); err != nil {
		return nil, apperr.Internal(err)
	}

	return codes, nil
}

// Disable removes the secret and every recovery code. Accepts a current TOTP
// code or an unused recovery code, so a user who lost the device can still
// get out.
func (s *MFAService) Disable(ctx context.Context, user *model.User, code, ip, userAgent string) error {
	secret, err := s.stores.MFA().GetSecret(ctx, user.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.Validation("mfa is not enabled")
		}
		return apperr.Internal(fmt.Errorf("loading mfa secret: %w", err))
	}
	if !secret.Enabled {
		return apperr.Validation("mfa is not enabled")
	}

	if err := s.checkCode(ctx, user.ID, secret, code); err != nil {
		if recErr := s.VerifyRecoveryCode(ctx, user.ID, code); recErr != nil {
			return err
		}
	}

	if err := s.stores.MFA().DeleteSecret(ctx, user.ID); err != nil {
		return apperr.Internal(fmt.Errorf("deleting mfa secret: %w", err))
	}
	if err := s.stores.MFA().ReplaceRecoveryCodes(ctx, user.ID, user.TenantID, nil); err != nil {
		return apperr.Internal(fmt.Errorf("deleting recovery codes: %w", err))
	}

	if err := s.auditor.Record(ctx, audit.Event{
		TenantID:  user.TenantID,
		ActorID:   user.ID,
		Action:    audit.ActionMFADisabled,
		Success:   true,
		IP:        ip,
		UserAgent: userAgent,
	}); err != nil {
		return apperr.Internal(err)
	}

	return nil
}

// RegenerateRecoveryCodes invalidates every outstanding recovery code and
// issues a fresh set, gated on a current TOTP code.
func (s *MFAService) RegenerateRecoveryCodes(ctx context.Context, user *model.User, code string) ([]string, error) {
	secret, err := s.stores.MFA().GetSecret(ctx, user.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.Validation("mfa is not enabled")
		}
		return nil, apperr.Internal(fmt.Errorf("loading mfa secret: %w", err))
	}
	if !secret.Enabled {
		return nil, apperr.Validation("mfa is not enabled")
	}

	if err := s.checkCode(ctx, user.ID, secret, code); err != nil {
		return nil, err
	}

	return s.replaceRecoveryCodes(ctx, user)
}

// VerifyCode validates a 6-digit TOTP code for the user, enforcing the
// failure lockout and the one-use-per-window rule.
func (s *MFAService) VerifyCode(ctx context.Context, user *model.User, code string) error {
	secret, err := s.stores.MFA().GetSecret(ctx, user.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrMFANotEnabled
		}
		return apperr.Internal(fmt.Errorf("loading mfa secret: %w", err))
	}
	if !secret.Enabled {
		return ErrMFANotEnabled
	}

	return s.checkCode(ctx, user.ID, secret, code)
}

// checkCode does the real verification against a loaded secret row: lockout
// gate, window match with ±1 step of clock drift, then the monotonic counter
// advance that makes each window single-use.
func (s *MFAService) checkCode(ctx context.Context, userID uuid.UUID, secret *model.MFASecret, code string) error {
	if locked, retryAfter := s.lockedOut(ctx, userID); locked {
		return apperr.MFALockout(retryAfter)
	}

	plaintext, err := s.box.Open(secret.Secret)
	if err != nil {
		return apperr.Internal(fmt.Errorf("unsealing totp secret: %w", err))
	}

	now := time.Now()
	current := now.Unix() / totpPeriod

	// All three windows are evaluated unconditionally; the loop shape does
	// not depend on which one matches.
	matched := int64(-1)
	for _, counter := range []int64{current - 1, current, current + 1} {
		expected, genErr := totp.GenerateCodeCustom(plaintext, time.Unix(counter*totpPeriod, 0), totp.ValidateOpts{
			Period:    totpPeriod,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if genErr != nil {
			return apperr.Internal(fmt.Errorf("generating totp code: %w", genErr))
		}
		if SecureCompareTokens(code, expected) && matched < 0 {
			matched = counter
		}
	}

	if matched < 0 {
		return s.recordFailure(ctx, userID, secret.TenantID)
	}

	advanced, err := s.stores.MFA().AdvanceCounter(ctx, userID, matched, now.UTC())
	if err != nil {
		return apperr.Internal(fmt.Errorf("advancing totp counter: %w", err))
	}
	if !advanced {
		// Correct code, already-consumed window. Treated exactly like a wrong
		// code so replayed codes learn nothing.
		return s.recordFailure(ctx, userID, secret.TenantID)
	}

	s.resetFailures(ctx, userID)
	return nil
}

// VerifyRecoveryCode consumes one unused recovery code. Every stored code is
// compared regardless of earlier matches.
func (s *MFAService) VerifyRecoveryCode(ctx context.Context, userID uuid.UUID, code string) error {
	canonical, ok := canonicalRecoveryCode(code)
	if !ok {
		return apperr.InvalidMFACode()
	}
	hash := HashToken(canonical)

	codes, err := s.stores.MFA().ListRecoveryCodes(ctx, userID)
	if err != nil {
		return apperr.Internal(fmt.Errorf("listing recovery codes: %w", err))
	}

	var match *model.MFARecoveryCode
	for i := range codes {
		usable := codes[i].UsedAt == nil
		if SecureCompareTokens(hash, codes[i].CodeHash) && usable && match == nil {
			match = &codes[i]
		}
	}
	if match == nil {
		return apperr.InvalidMFACode()
	}

	consumed, err := s.stores.MFA().ConsumeRecoveryCode(ctx, match.ID, time.Now().UTC())
	if err != nil {
		return apperr.Internal(fmt.Errorf("consuming recovery code: %w", err))
	}
	if !consumed {
		return apperr.InvalidMFACode()
	}
	return nil
}

func (s *MFAService) replaceRecoveryCodes(ctx context.Context, user *model.User) ([]string, error) {
	codes, err := GenerateRecoveryCodes(recoveryCodeCount)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = HashToken(c)
	}
	if err := s.stores.MFA().ReplaceRecoveryCodes(ctx, user.ID, user.TenantID, hashes); err != nil {
		return nil, apperr.Internal(fmt.Errorf("storing recovery codes: %w", err))
	}
	return codes, nil
}

func (s *MFAService) lockedOut(ctx context.Context, userID uuid.UUID) (bool, int) {
	if s.limiter == nil || s.limits.FailThreshold <= 0 {
		return false, 0
	}
	count, remaining, err := s.limiter.Count(ctx, mfaFailKey(userID))
	if err != nil {
		s.logger.WarnContext(ctx, "mfa failure counter unavailable", "error", err)
		return false, 0
	}
	if count >= int64(s.limits.FailThreshold) {
		return true, int(remaining.Seconds()) + 1
	}
	return false, 0
}

// recordFailure bumps the failure counter and returns the uniform invalid
// code error, or the lockout error when this failure crossed the threshold.
func (s *MFAService) recordFailure(ctx context.Context, userID uuid.UUID, tenantID int64) error {
	if s.limiter == nil || s.limits.FailThreshold <= 0 {
		return apperr.InvalidMFACode()
	}

	count, remaining, err := s.limiter.Incr(ctx, mfaFailKey(userID), s.limits.FailWindow)
	if err != nil {
		s.logger.WarnContext(ctx, "mfa failure counter unavailable", "error", err)
		return apperr.InvalidMFACode()
	}

	if count == int64(s.limits.FailThreshold) {
		retryAfter := int(remaining.Seconds()) + 1
		if auditErr := s.auditor.Record(ctx, audit.Event{
			TenantID: tenantID,
			ActorID:  userID,
			Action:   audit.ActionMFALockout,
			Success:  false,
		}); auditErr != nil {
			return apperr.Internal(auditErr)
		}
		return apperr.MFALockout(retryAfter)
	}
	if count > int64(s.limits.FailThreshold) {
		return apperr.MFALockout(int(remaining.Seconds()) + 1)
	}

	return apperr.InvalidMFACode()
}

func (s *MFAService) resetFailures(ctx context.Context, userID uuid.UUID) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.Reset(ctx, mfaFailKey(userID)); err != nil {
		s.logger.WarnContext(ctx, "failed to reset mfa failure counter", "error", err)
	}
}

func mfaFailKey(userID uuid.UUID) string {
	return "mfa_fail:" + userID.String()
}

// recoveryCharset excludes I, O, 0 and 1 so codes survive being read aloud.
const recoveryCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateRecoveryCodes creates cryptographically secure recovery codes in
// XXXX-XXXX form.
func GenerateRecoveryCodes(count int) ([]string, error) {
	codes := make([]string, count)
	for i := 0; i < count; i++ {
		code := make([]byte, 8)
		for j := 0; j < 8; j++ {
			num, err := rand.Int(rand.Reader, big.NewInt(int64(len(recoveryCharset))))
			if err != nil {
				return nil, fmt.Errorf("crypto/rand failed: %w", err)
			}
			code[j] = recoveryCharset[num.Int64()]
		}
		codes[i] = string(code[:4]) + "-" + string(code[4:])
	}
	return codes, nil
}

// canonicalRecoveryCode normalizes user input back to the XXXX-XXXX form the
// hash was computed over. Case and separators are forgiven; anything else is
// rejected before hashing.
func canonicalRecoveryCode(input string) (string, bool) {
	cleaned := make([]byte, 0, 8)
	for _, r := range strings.ToUpper(strings.TrimSpace(input)) {
		if r == '-' || r == ' ' {
			continue
		}
		if r > 127 || !strings.ContainsRune(recoveryCharset, r) {
			return "", false
		}
		cleaned = append(cleaned, byte(r))
	}
	if len(cleaned) != 8 {
		return "", false
	}
	return string(cleaned[:4]) + "-" + string(cleaned[4:]), true
}
