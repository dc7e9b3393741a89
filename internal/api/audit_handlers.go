package api

import (
	"net/http"
	"strconv"

	"github.com/comptoirhq/identity/internal/api/helpers"
	"github.com/comptoirhq/identity/internal/api/middleware"
	"github.com/comptoirhq/identity/internal/apperr"
	"github.com/comptoirhq/identity/internal/storage"
)

const defaultAuditPageSize = 50

// handleListAudit pages through the tenant's trail, newest first. Superusers
// only; the gate runs in middleware.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	page := storage.Page{Number: 1, Size: defaultAuditPageSize}
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			helpers.RespondValidation(w, r, "page must be an integer")
			return
		}
		page.Number = n
	}
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			helpers.RespondValidation(w, r, "page_size must be an integer")
			return
		}
		page.Size = n
	}
	if err := page.Validate(); err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	tenantID := middleware.MustGetTenantID(r.Context())
	events, err := s.stores.Audit().ListForTenant(r.Context(), tenantID, page)
	if err != nil {
		helpers.RespondError(w, r, apperr.Internal(err))
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"events":    events,
		"page":      page.Number,
		"page_size": page.Size,
	})
}
