package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/api/helpers"
	"github.com/comptoirhq/identity/internal/api/middleware"
	"github.com/comptoirhq/identity/internal/auth"
)

type createAPIKeyRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes,omitempty"`
	// ExpiresAt is RFC 3339; omitted means the key does not expire.
	ExpiresAt string `json:"expires_at,omitempty"`
}

// handleCreateAPIKey mints a key and returns the raw value exactly once.
// Listings only ever show the prefix.
func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		helpers.RespondValidation(w, r, err.Error())
		return
	}

	input := auth.CreateAPIKeyInput{
		TenantID:  middleware.MustGetTenantID(r.Context()),
		Name:      req.Name,
		Scopes:    req.Scopes,
		ActorID:   middleware.MustGetUserID(r.Context()),
		IP:        helpers.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
	if req.ExpiresAt != "" {
		at, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			helpers.RespondValidation(w, r, "expires_at must be RFC 3339")
			return
		}
		if !at.After(time.Now()) {
			helpers.RespondValidation(w, r, "expires_at must be in the future")
			return
		}
		input.ExpiresAt = &at
	}

	created, err := s.apiKeys.Create(r.Context(), input)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusCreated, map[string]any{
		"key":     created.Key,
		"raw_key": created.RawKey,
	})
}

func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.apiKeys.List(r.Context(), middleware.MustGetTenantID(r.Context()))
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"api_keys": keys})
}

func (s *Server) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		helpers.RespondValidation(w, r, "api key id must be a UUID")
		return
	}

	err = s.apiKeys.Revoke(r.Context(),
		middleware.MustGetTenantID(r.Context()), id,
		middleware.MustGetUserID(r.Context()),
		helpers.ClientIP(r), r.UserAgent())
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
