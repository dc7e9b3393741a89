package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"github.com/comptoirhq/identity/internal/api/helpers"
	"github.com/comptoirhq/identity/internal/apperr"
	"github.com/comptoirhq/identity/internal/auth"
)

// RequireAuth validates the bearer token and loads its identity onto the
// context. Only access tokens pass; a refresh or mfa_session token presented
// here is rejected with the same generic 401 as a garbage one. When the
// request also carries a tenant header, the token must belong to that tenant.
func RequireAuth(provider auth.TokenProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := bearerClaims(w, r, provider)
			if !ok {
				return
			}
			next.ServeHTTP(w, r.WithContext(contextWithIdentity(r, claims)))
		})
	}
}

// OptionalAuth is RequireAuth for endpoints that also accept anonymous
// callers, such as logout with only a refresh token in the body. A present
// but invalid bearer token still fails; absence does not.
func OptionalAuth(provider auth.TokenProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				next.ServeHTTP(w, r)
				return
			}
			claims, ok := bearerClaims(w, r, provider)
			if !ok {
				return
			}
			next.ServeHTTP(w, r.WithContext(contextWithIdentity(r, claims)))
		})
	}
}

func bearerClaims(w http.ResponseWriter, r *http.Request, provider auth.TokenProvider) (*auth.Claims, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		helpers.RespondError(w, r, apperr.TokenInvalid())
		return nil, false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		helpers.RespondError(w, r, apperr.TokenInvalid())
		return nil, false
	}

	claims, err := provider.ValidateToken(token, auth.TokenTypeAccess)
	if err != nil {
		slog.DebugContext(r.Context(), "bearer token rejected", "error", err, "ip", helpers.ClientIP(r))
		helpers.RespondError(w, r, apperr.TokenInvalid())
		return nil, false
	}

	// A tenant header on an authenticated call must agree with the token.
	// Disagreement gets the generic 401, not a hint about which side is off.
	if headerTenant, err := GetTenantID(r.Context()); err == nil && headerTenant != claims.TenantID {
		slog.WarnContext(r.Context(), "tenant scope mismatch",
			"header_tenant", headerTenant, "token_tenant", claims.TenantID)
		helpers.RespondError(w, r, apperr.TokenInvalid())
		return nil, false
	}
	return claims, true
}

// contextWithIdentity loads the validated identity onto the request context
// and mirrors it into the Sentry scope. When no tenant header was present the
// token's tenant claim becomes the request's tenant scope.
func contextWithIdentity(r *http.Request, claims *auth.Claims) context.Context {
	ctx := r.Context()
	if _, err := GetTenantID(ctx); err != nil {
		ctx = WithTenantID(ctx, claims.TenantID)
		setSentryTenant(ctx, claims.TenantID, "token")
	}
	ctx = WithUserID(ctx, claims.UserID)
	ctx = WithClaims(ctx, claims)

	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.ConfigureScope(func(scope *sentry.Scope) {
			scope.SetUser(sentry.User{ID: claims.UserID.String(), IPAddress: helpers.ClientIP(r)})
		})
	}
	return ctx
}
