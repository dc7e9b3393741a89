package api

import (
	"net/http"

	"github.com/comptoirhq/identity/internal/api/helpers"
	"github.com/comptoirhq/identity/internal/api/middleware"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		helpers.RespondValidation(w, r, err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		helpers.RespondValidation(w, r, "email and password are required")
		return
	}

	user, err := s.registration.Register(r.Context(),
		middleware.MustGetTenantID(r.Context()), req.Email, req.Password,
		helpers.ClientIP(r), r.UserAgent())
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusCreated, userResponseFrom(user))
}

type verifyEmailRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		helpers.RespondValidation(w, r, err.Error())
		return
	}
	if req.Token == "" {
		helpers.RespondValidation(w, r, "token is required")
		return
	}

	err := s.registration.VerifyEmail(r.Context(),
		middleware.MustGetTenantID(r.Context()), req.Token,
		helpers.ClientIP(r), r.UserAgent())
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "email verified"})
}

type resendVerificationRequest struct {
	Email string `json:"email"`
}

// handleResendVerification always answers 200 with the same body; whether a
// mail actually went out depends on the account's state, which stays private.
func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req resendVerificationRequest
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		helpers.RespondValidation(w, r, err.Error())
		return
	}
	if req.Email == "" {
		helpers.RespondValidation(w, r, "email is required")
		return
	}

	if err := s.registration.ResendVerification(r.Context(),
		middleware.MustGetTenantID(r.Context()), req.Email); err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{
		"status": "if the address is registered and unverified, a new verification email has been sent",
	})
}
