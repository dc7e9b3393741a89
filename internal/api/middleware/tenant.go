package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/getsentry/sentry-go"

	"github.com/comptoirhq/identity/internal/api/helpers"
	"github.com/comptoirhq/identity/internal/apperr"
)

// TenantHeader carries the integer tenant scope on unauthenticated calls.
const TenantHeader = "X-Tenant-ID"

// RequireTenant gates the public endpoints: login, registration, reset and
// verification all need an explicit tenant before any credential is looked
// at. Missing or non-integer values are a 400, never a fallback tenant.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(TenantHeader)
		if raw == "" {
			helpers.RespondError(w, r, apperr.Validation("X-Tenant-ID header is required"))
			return
		}
		tenantID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || tenantID <= 0 {
			slog.WarnContext(r.Context(), "bad tenant header", "value", raw, "ip", helpers.ClientIP(r))
			helpers.RespondError(w, r, apperr.Validation("X-Tenant-ID must be a positive integer"))
			return
		}

		ctx := WithTenantID(r.Context(), tenantID)
		setSentryTenant(ctx, tenantID, "header")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// setSentryTenant tags the request's Sentry scope so errors group by tenant.
func setSentryTenant(ctx context.Context, tenantID int64, source string) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("tenant_id", strconv.FormatInt(tenantID, 10))
		scope.SetTag("tenant_source", source)
	})
}
