package middleware

import (
	"log/slog"
	"net/http"

	"github.com/comptoirhq/identity/internal/api/helpers"
	"github.com/comptoirhq/identity/internal/apperr"
	"github.com/comptoirhq/identity/internal/storage"
)

// RequireSuperuser gates operator-grade endpoints. The flag is read from the
// store on every request rather than from the token, so revoking superuser
// takes effect immediately instead of at access-token expiry. Runs behind
// RequireAuth.
func RequireSuperuser(stores storage.Bundle) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := MustGetTenantID(r.Context())
			userID := MustGetUserID(r.Context())

			user, err := stores.Users(tenantID).GetByID(r.Context(), userID)
			if err != nil {
				helpers.RespondError(w, r, apperr.TokenInvalid())
				return
			}
			if !user.IsSuperuser {
				slog.WarnContext(r.Context(), "superuser endpoint denied",
					"tenant_id", tenantID, "user_id", userID, "path", r.URL.Path)
				helpers.RespondError(w, r, apperr.Forbidden())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
