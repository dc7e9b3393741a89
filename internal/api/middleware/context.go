// Package middleware holds the HTTP cross-cutting layer: request identity
// (tenant, user, claims), request logging, panic recovery, rate limiting and
// CORS. Handlers downstream read what these middlewares put on the context.
package middleware

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/auth"
)

// contextKey keeps our context values from colliding with other packages'.
type contextKey string

const (
	tenantIDKey contextKey = "tenant_id"
	userIDKey   contextKey = "user_id"
	claimsKey   contextKey = "claims"
)

// WithTenantID returns a context carrying the tenant scope.
func WithTenantID(ctx context.Context, tenantID int64) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// GetTenantID extracts the tenant scope set by RequireTenant or RequireAuth.
func GetTenantID(ctx context.Context) (int64, error) {
	id, ok := ctx.Value(tenantIDKey).(int64)
	if !ok {
		return 0, fmt.Errorf("tenant_id not in context")
	}
	return id, nil
}

// MustGetTenantID is for handlers that only run behind the tenant middleware.
func MustGetTenantID(ctx context.Context) int64 {
	id, err := GetTenantID(ctx)
	if err != nil {
		panic(err)
	}
	return id
}

// WithUserID returns a context carrying the authenticated user.
func WithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID extracts the authenticated user set by RequireAuth.
func GetUserID(ctx context.Context) (uuid.UUID, error) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	if !ok {
		return uuid.Nil, fmt.Errorf("user_id not in context")
	}
	return id, nil
}

// MustGetUserID is for handlers that only run behind RequireAuth.
func MustGetUserID(ctx context.Context) uuid.UUID {
	id, err := GetUserID(ctx)
	if err != nil {
		panic(err)
	}
	return id
}

// WithClaims returns a context carrying the validated token claims.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// GetClaims extracts the validated claims set by RequireAuth, or nil when the
// request was not authenticated (OptionalAuth without a token).
func GetClaims(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}
