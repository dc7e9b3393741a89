// Package config maps environment variables into the typed configuration
// shared by every entrypoint. Parsing happens once at startup; the struct is
// read-only afterwards and passed to components via constructors.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all runtime configuration for the identity service.
type Config struct {
	// Server
	Port        string `env:"PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	SentryDSN   string `env:"SENTRY_DSN"`

	// PostgreSQL and Redis
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL"`

	// Token signing (HS256). The secret must be at least 32 bytes.
	JWTSecret          string        `env:"JWT_SECRET,required"`
	AccessTokenTTL     time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL    time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	MFASessionTokenTTL time.Duration `env:"MFA_SESSION_TOKEN_TTL" envDefault:"5m"`

	// Sessions
	SessionAbsoluteLifetime time.Duration `env:"SESSION_ABSOLUTE_LIFETIME" envDefault:"720h"`
	// MaxActiveSessions of 0 means unlimited. When the cap is hit the oldest
	// session is evicted unless SessionLimitReject is set.
	MaxActiveSessions  int  `env:"MAX_ACTIVE_SESSIONS" envDefault:"0"`
	SessionLimitReject bool `env:"SESSION_LIMIT_REJECT" envDefault:"false"`

	// Lockout and CAPTCHA gating windows
	LockoutThreshold int           `env:"LOCKOUT_THRESHOLD" envDefault:"5"`
	LockoutWindow    time.Duration `env:"LOCKOUT_WINDOW" envDefault:"30m"`
	CaptchaThreshold int           `env:"CAPTCHA_THRESHOLD" envDefault:"3"`
	CaptchaWindow    time.Duration `env:"CAPTCHA_WINDOW" envDefault:"30m"`

	// CAPTCHA provider: "recaptcha_v3", "hcaptcha" or empty to disable.
	CaptchaProvider string        `env:"CAPTCHA_PROVIDER"`
	CaptchaSecret   string        `env:"CAPTCHA_SECRET"`
	CaptchaSiteKey  string        `env:"CAPTCHA_SITE_KEY"`
	CaptchaMinScore float64       `env:"CAPTCHA_MIN_SCORE" envDefault:"0.5"`
	CaptchaAction   string        `env:"CAPTCHA_ACTION" envDefault:"login"`
	CaptchaTimeout  time.Duration `env:"CAPTCHA_TIMEOUT" envDefault:"5s"`

	// MFA
	MFAIssuer        string        `env:"MFA_ISSUER" envDefault:"Comptoir"`
	MFASecretKey     string        `env:"MFA_SECRET_KEY,required"`
	MFAFailThreshold int           `env:"MFA_FAIL_THRESHOLD" envDefault:"5"`
	MFAFailWindow    time.Duration `env:"MFA_FAIL_WINDOW" envDefault:"30m"`

	// Password reset and email verification
	ResetTokenTTL        time.Duration `env:"RESET_TOKEN_TTL" envDefault:"1h"`
	ResetMaxPerHour      int           `env:"RESET_MAX_PER_HOUR" envDefault:"3"`
	VerifyTokenTTL       time.Duration `env:"VERIFY_TOKEN_TTL" envDefault:"24h"`
	AppBaseURL           string        `env:"APP_BASE_URL" envDefault:"http://localhost:3000"`
	RequireVerifiedEmail bool          `env:"REQUIRE_VERIFIED_EMAIL" envDefault:"false"`

	// TestMode disables lockout and CAPTCHA gating. Integration rigs only;
	// must never be set in production.
	TestMode bool `env:"AUTH_TEST_MODE" envDefault:"false"`

	// SMTP delivery. Empty host selects the log-only mailer.
	SMTPHost    string `env:"SMTP_HOST"`
	SMTPPort    int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser    string `env:"SMTP_USER"`
	SMTPPass    string `env:"SMTP_PASS"`
	SMTPFrom    string `env:"SMTP_FROM"`
	SMTPTLSMode string `env:"SMTP_TLS_MODE" envDefault:"starttls"`

	// CORS
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

// Load parses the environment into a Config and validates the parts that
// would otherwise fail far from startup.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}

	if len(cfg.JWTSecret) < 32 {
		return nil, errors.New("config: JWT_SECRET must be at least 32 bytes")
	}
	if cfg.TestMode && cfg.IsProduction() {
		return nil, errors.New("config: AUTH_TEST_MODE must not be set in production")
	}
	if err := ValidateOrigins(cfg.AllowedOrigins); err != nil {
		return nil, fmt.Errorf("config: CORS_ALLOWED_ORIGINS: %w", err)
	}

	return cfg, nil
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// ValidateOrigins rejects CORS origins that would weaken the deployment:
// wildcards and plain HTTP anywhere but localhost.
func ValidateOrigins(origins []string) error {
	for _, origin := range origins {
		if origin == "*" {
			return errors.New("wildcard origin not allowed")
		}
		if origin == "" || strings.Contains(origin, " ") {
			return errors.New("invalid origin format")
		}
		if !strings.HasPrefix(origin, "https://") && !strings.HasPrefix(origin, "http://localhost") {
			return errors.New("only HTTPS origins allowed (http://localhost excepted)")
		}
	}
	return nil
}
