package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/api/helpers"
	"github.com/comptoirhq/identity/internal/api/middleware"
	"github.com/comptoirhq/identity/internal/auth"
)

type loginRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	CaptchaToken string `json:"captcha_token,omitempty"`
}

// tokenPairResponse is the single response shape of every authentication
// entry point. Exactly one of its three groups is populated: issued tokens,
// the MFA continuation, or the CAPTCHA challenge. mfa_required is always
// present so clients can branch on it without probing for the field.
type tokenPairResponse struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	SessionID    string `json:"session_id,omitempty"`

	MFARequired     bool   `json:"mfa_required"`
	MFASessionToken string `json:"mfa_session_token,omitempty"`

	CaptchaRequired bool   `json:"captcha_required,omitempty"`
	CaptchaSiteKey  string `json:"site_key,omitempty"`
}

func tokenPairFrom(result *auth.LoginResult) tokenPairResponse {
	resp := tokenPairResponse{
		MFARequired:     result.MFARequired,
		MFASessionToken: result.MFASessionToken,
		CaptchaRequired: result.CaptchaRequired,
		CaptchaSiteKey:  result.CaptchaSiteKey,
	}
	if result.AccessToken != "" {
		resp.AccessToken = result.AccessToken
		resp.RefreshToken = result.RefreshToken
		resp.TokenType = "Bearer"
		resp.ExpiresIn = result.ExpiresIn
		resp.SessionID = result.SessionID.String()
	}
	return resp
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		helpers.RespondValidation(w, r, err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		helpers.RespondValidation(w, r, "email and password are required")
		return
	}

	result, err := s.auth.Login(r.Context(), auth.LoginInput{
		TenantID:     middleware.MustGetTenantID(r.Context()),
		Email:        req.Email,
		Password:     req.Password,
		CaptchaToken: req.CaptchaToken,
		IP:           helpers.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, tokenPairFrom(result))
}

type mfaLoginRequest struct {
	MFASessionToken string `json:"mfa_session_token"`
	Code            string `json:"code"`
}

func (s *Server) handleLoginMFA(w http.ResponseWriter, r *http.Request) {
	var req mfaLoginRequest
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		helpers.RespondValidation(w, r, err.Error())
		return
	}
	if req.MFASessionToken == "" || req.Code == "" {
		helpers.RespondValidation(w, r, "mfa_session_token and code are required")
		return
	}

	result, err := s.auth.VerifyLoginMFA(r.Context(), req.MFASessionToken, req.Code, helpers.ClientIP(r), r.UserAgent())
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, tokenPairFrom(result))
}

type recoveryLoginRequest struct {
	MFASessionToken string `json:"mfa_session_token"`
	RecoveryCode    string `json:"recovery_code"`
}

func (s *Server) handleLoginRecovery(w http.ResponseWriter, r *http.Request) {
	var req recoveryLoginRequest
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		helpers.RespondValidation(w, r, err.Error())
		return
	}
	if req.MFASessionToken == "" || req.RecoveryCode == "" {
		helpers.RespondValidation(w, r, "mfa_session_token and recovery_code are required")
		return
	}

	result, err := s.auth.VerifyLoginRecoveryCode(r.Context(), req.MFASessionToken, req.RecoveryCode, helpers.ClientIP(r), r.UserAgent())
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, tokenPairFrom(result))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		helpers.RespondValidation(w, r, err.Error())
		return
	}
	if req.RefreshToken == "" {
		helpers.RespondValidation(w, r, "refresh_token is required")
		return
	}

	result, err := s.auth.Refresh(r.Context(), req.RefreshToken, helpers.ClientIP(r), r.UserAgent())
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, tokenPairFrom(result))
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	AllSessions  bool   `json:"all_sessions,omitempty"`
}

// handleLogout accepts three shapes: a refresh token in the body (works
// unauthenticated), an owned session id, or all_sessions=true. The latter two
// need the bearer token the OptionalAuth middleware may have validated.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := helpers.DecodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		helpers.RespondValidation(w, r, err.Error())
		return
	}

	input := auth.LogoutInput{
		RefreshToken: req.RefreshToken,
		AllSessions:  req.AllSessions,
		IP:           helpers.ClientIP(r),
		UserAgent:    r.UserAgent(),
	}
	if claims := middleware.GetClaims(r.Context()); claims != nil {
		input.ActorID = claims.UserID
		input.TenantID = claims.TenantID
	}
	if req.SessionID != "" {
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			helpers.RespondValidation(w, r, "session_id must be a UUID")
			return
		}
		input.SessionID = &id
	}

	if err := s.auth.Logout(r.Context(), input); err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
