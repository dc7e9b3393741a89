package api

import (
	"net/http"

	"github.com/comptoirhq/identity/internal/api/helpers"
	"github.com/comptoirhq/identity/internal/api/middleware"
)

// resetRequestedBody is the one and only success body of the reset-request
// endpoint. Known email, unknown email and rate-limited all serialize this
// exact value, so the responses are byte-identical.
var resetRequestedBody = map[string]string{
	"status": "if the address is registered, a password reset email has been sent",
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

func (s *Server) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		helpers.RespondValidation(w, r, err.Error())
		return
	}
	if req.Email == "" {
		helpers.RespondValidation(w, r, "email is required")
		return
	}

	err := s.resets.Request(r.Context(),
		middleware.MustGetTenantID(r.Context()), req.Email,
		helpers.ClientIP(r), r.UserAgent())
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, resetRequestedBody)
}

type passwordResetConfirm struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (s *Server) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req passwordResetConfirm
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		helpers.RespondValidation(w, r, err.Error())
		return
	}
	if req.Token == "" || req.NewPassword == "" {
		helpers.RespondValidation(w, r, "token and new_password are required")
		return
	}

	err := s.resets.Confirm(r.Context(),
		middleware.MustGetTenantID(r.Context()), req.Token, req.NewPassword,
		helpers.ClientIP(r), r.UserAgent())
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "password has been reset"})
}
