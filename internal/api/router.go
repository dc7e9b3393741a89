// Package api is the HTTP adapter over the identity services. Handlers
// decode, delegate and encode; every policy decision lives in internal/auth.
package api

import (
	"context"
	"log/slog"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/comptoirhq/identity/internal/api/middleware"
	"github.com/comptoirhq/identity/internal/auth"
	"github.com/comptoirhq/identity/internal/storage"
)

// Transport-level flood brake. Domain-level brakes (lockout, CAPTCHA, MFA
// fail counters) are per account and live in the services.
const (
	rateLimitRPS   = 5
	rateLimitBurst = 10
)

// timeFormat is how timestamps leave the API.
const timeFormat = time.RFC3339

// Deps carries everything the HTTP layer needs. All fields are required
// except ReadyCheck, which defaults to always-ready.
type Deps struct {
	Stores       storage.Bundle
	Tokens       auth.TokenProvider
	Auth         *auth.AuthService
	Registration *auth.RegistrationService
	Resets       *auth.PasswordResetService
	Sessions     *auth.SessionService
	MFA          *auth.MFAService
	APIKeys      *auth.APIKeyService

	// AllowedOrigins feeds the CORS allowlist; empty disables CORS entirely.
	AllowedOrigins []string
	// ReadyCheck is the dependency probe behind /readyz, usually a DB ping.
	ReadyCheck func(context.Context) error

	Logger *slog.Logger
}

// Server owns the router and the service handles the handlers call.
type Server struct {
	Router *chi.Mux

	stores       storage.Bundle
	tokens       auth.TokenProvider
	auth         *auth.AuthService
	registration *auth.RegistrationService
	resets       *auth.PasswordResetService
	sessions     *auth.SessionService
	mfa          *auth.MFAService
	apiKeys      *auth.APIKeyService
	readyCheck   func(context.Context) error
	logger       *slog.Logger
}

// NewServer wires the middleware stack and the full route table.
func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		stores:       d.Stores,
		tokens:       d.Tokens,
		auth:         d.Auth,
		registration: d.Registration,
		resets:       d.Resets,
		sessions:     d.Sessions,
		mfa:          d.MFA,
		apiKeys:      d.APIKeys,
		readyCheck:   d.ReadyCheck,
		logger:       logger,
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)

	// Sentry sits above recovery so repanicked panics reach it with the
	// request hub attached.
	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})
	r.Use(sentryHandler.Handle)

	r.Use(middleware.RequestLogger)
	r.Use(middleware.PanicRecovery)

	limiter := middleware.NewIPRateLimiter(rateLimitRPS, rateLimitBurst)
	r.Use(limiter.Middleware)

	if len(d.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(d.AllowedOrigins))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	requireAuth := middleware.RequireAuth(d.Tokens)
	optionalAuth := middleware.OptionalAuth(d.Tokens)
	requireSuperuser := middleware.RequireSuperuser(d.Stores)

	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated entry points. The tenant header picks the scope
		// before any credential is examined.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireTenant)

			r.Post("/auth/register", s.handleRegister)
			r.Post("/auth/verify-email", s.handleVerifyEmail)
			r.Post("/auth/verify-email/resend", s.handleResendVerification)
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/login/mfa", s.handleLoginMFA)
			r.Post("/auth/login/recovery", s.handleLoginRecovery)
			r.Post("/auth/password-reset/request", s.handlePasswordResetRequest)
			r.Post("/auth/password-reset/confirm", s.handlePasswordResetConfirm)
		})

		// The refresh token is its own credential; no header, no bearer.
		r.Post("/auth/refresh", s.handleRefresh)
		r.With(optionalAuth).Post("/auth/logout", s.handleLogout)

		// Everything below requires a live access token.
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/change-password", s.handleChangePassword)

			r.Get("/sessions", s.handleListSessions)
			r.Get("/sessions/{id}", s.handleGetSession)
			r.Delete("/sessions/{id}", s.handleTerminateSession)

			r.Post("/mfa/setup", s.handleMFASetup)
			r.Post("/mfa/enable", s.handleMFAEnable)
			r.Post("/mfa/disable", s.handleMFADisable)
			r.Post("/mfa/recovery-codes", s.handleMFARecoveryCodes)

			r.Post("/api-keys", s.handleCreateAPIKey)
			r.Get("/api-keys", s.handleListAPIKeys)
			r.Delete("/api-keys/{id}", s.handleRevokeAPIKey)

			r.With(requireSuperuser).Get("/audit", s.handleListAudit)
		})
	})

	s.Router = r
	return s
}
