package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/api/helpers"
	"github.com/comptoirhq/identity/internal/api/middleware"
	"github.com/comptoirhq/identity/internal/apperr"
	"github.com/comptoirhq/identity/internal/model"
)

// userResponse is the self-view of an account. Flags that drive client UI
// (verification, MFA) are included; internal ones are not.
type userResponse struct {
	ID          string `json:"id"`
	TenantID    int64  `json:"tenant_id"`
	Email       string `json:"email"`
	IsVerified  bool   `json:"is_verified"`
	MFARequired bool   `json:"mfa_required"`
	CreatedAt   string `json:"created_at"`
	LastLoginAt string `json:"last_login_at,omitempty"`
}

func userResponseFrom(u *model.User) userResponse {
	resp := userResponse{
		ID:          u.ID.String(),
		TenantID:    u.TenantID,
		Email:       u.Email,
		IsVerified:  u.IsVerified,
		MFARequired: u.MFARequired,
		CreatedAt:   u.CreatedAt.Format(timeFormat),
	}
	if u.LastLoginAt != nil {
		resp.LastLoginAt = u.LastLoginAt.Format(timeFormat)
	}
	return resp
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	helpers.RespondJSON(w, http.StatusOK, userResponseFrom(user))
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	// KeepSessionID optionally names the caller's own session to survive the
	// change; every other session is terminated either way.
	KeepSessionID string `json:"keep_session_id,omitempty"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		helpers.RespondValidation(w, r, err.Error())
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		helpers.RespondValidation(w, r, "current_password and new_password are required")
		return
	}

	var keep *uuid.UUID
	if req.KeepSessionID != "" {
		id, err := uuid.Parse(req.KeepSessionID)
		if err != nil {
			helpers.RespondValidation(w, r, "keep_session_id must be a UUID")
			return
		}
		keep = &id
	}

	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	err := s.auth.ChangePassword(r.Context(), user, req.CurrentPassword, req.NewPassword, keep, helpers.ClientIP(r), r.UserAgent())
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "password changed"})
}

// currentUser resolves the authenticated caller to a live user row. A token
// that outlived its account gets the generic 401.
func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	tenantID := middleware.MustGetTenantID(r.Context())
	userID := middleware.MustGetUserID(r.Context())

	user, err := s.auth.GetUser(r.Context(), tenantID, userID)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeNotFound) {
			err = apperr.TokenInvalid()
		}
		helpers.RespondError(w, r, err)
		return nil, false
	}
	return user, true
}
