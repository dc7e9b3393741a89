package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/comptoirhq/identity/internal/config"
)

// ErrCaptchaFailed covers every way a challenge response can be bad: wrong
// token, expired token, low score, provider unreachable. The gate fails
// closed on all of them.
var ErrCaptchaFailed = errors.New("captcha verification failed")

// Supported CAPTCHA providers.
const (
	CaptchaRecaptchaV3 = "recaptcha_v3"
	CaptchaHCaptcha    = "hcaptcha"
)

const (
	recaptchaEndpoint = "https://www.google.com/recaptcha/api/siteverify"
	hcaptchaEndpoint  = "https://api.hcaptcha.com/siteverify"
)

// CaptchaVerifier is what the login flow sees. One instance lives for the
// whole process and is shared by every request.
type CaptchaVerifier interface {
	// Enabled reports whether a provider is configured at all. When false the
	// CAPTCHA gate never triggers.
	Enabled() bool
	// SiteKey returns the public key the client needs to render the challenge.
	SiteKey() string
	// Verify checks a challenge response with the provider. nil means human.
	Verify(ctx context.Context, token, remoteIP string) error
}

// CaptchaProvider verifies challenge tokens against reCAPTCHA v3 or hCaptcha
// over their shared siteverify protocol.
type CaptchaProvider struct {
	// Endpoint is derived from the provider name; tests point it at a stub.
	Endpoint string
	Secret   string
	Key      string
	// MinScore only applies to reCAPTCHA v3, which scores instead of
	// pass/failing. hCaptcha responses carry no score.
	MinScore float64
	// Action must match the action claimed by the client widget, when set.
	Action  string
	Timeout time.Duration
	Client  *http.Client
}

// NewCaptchaVerifier builds the process-wide verifier from configuration. An
// empty provider name disables the gate entirely.
func NewCaptchaVerifier(cfg *config.Config) (CaptchaVerifier, error) {
	if cfg.CaptchaProvider == "" {
		return disabledCaptcha{}, nil
	}

	var endpoint string
	switch cfg.CaptchaProvider {
	case CaptchaRecaptchaV3:
		endpoint = recaptchaEndpoint
	case CaptchaHCaptcha:
		endpoint = hcaptchaEndpoint
	default:
		return nil, fmt.Errorf("unknown captcha provider %q", cfg.CaptchaProvider)
	}
	if cfg.CaptchaSecret == "" {
		return nil, fmt.Errorf("captcha provider %q configured without CAPTCHA_SECRET", cfg.CaptchaProvider)
	}

	return &CaptchaProvider{
		Endpoint: endpoint,
		Secret:   cfg.CaptchaSecret,
		Key:      cfg.CaptchaSiteKey,
		MinScore: cfg.CaptchaMinScore,
		Action:   cfg.CaptchaAction,
		Timeout:  cfg.CaptchaTimeout,
		Client:   &http.Client{Timeout: cfg.CaptchaTimeout},
	}, nil
}

var _ CaptchaVerifier = (*CaptchaProvider)(nil)

func (p *CaptchaProvider) Enabled() bool   { return true }
func (p *CaptchaProvider) SiteKey() string { return p.Key }

// siteverifyResponse is the wire format shared by both providers. Score is a
// pointer because hCaptcha omits it.
type siteverifyResponse struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score"`
	Action     string   `json:"action"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify posts the token to the provider's siteverify endpoint. Any failure
// to get a positive answer within the timeout counts as a failed challenge.
func (p *CaptchaProvider) Verify(ctx context.Context, token, remoteIP string) error {
	if strings.TrimSpace(token) == "" {
		return ErrCaptchaFailed
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	form := url.Values{}
	form.Set("secret", p.Secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: building request: %w", ErrCaptchaFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: provider unreachable: %w", ErrCaptchaFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: provider returned status %d", ErrCaptchaFailed, resp.StatusCode)
	}

	var body siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("%w: decoding provider response: %w", ErrCaptchaFailed, err)
	}

	if !body.Success {
		return fmt.Errorf("%w: %s", ErrCaptchaFailed, strings.Join(body.ErrorCodes, ","))
	}
	if body.Score != nil && *body.Score < p.MinScore {
		return fmt.Errorf("%w: score %.2f below threshold", ErrCaptchaFailed, *body.Score)
	}
	if p.Action != "" && body.Action != "" && body.Action != p.Action {
		return fmt.Errorf("%w: action mismatch", ErrCaptchaFailed)
	}

	return nil
}

// disabledCaptcha is used when no provider is configured.
type disabledCaptcha struct{}

func (disabledCaptcha) Enabled() bool   { return false }
func (disabledCaptcha) SiteKey() string { return "" }

func (disabledCaptcha) Verify(context.Context, string, string) error { return nil }
