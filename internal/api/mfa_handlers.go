package api

import (
	"net/http"

	"github.com/comptoirhq/identity/internal/api/helpers"
)

// handleMFASetup provisions a pending TOTP secret. The secret and QR code
// appear in this response and never again.
func (s *Server) handleMFASetup(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	setup, err := s.mfa.Setup(r.Context(), user)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, setup)
}

type mfaCodeRequest struct {
	Code string `json:"code"`
}

func (s *Server) decodeMFACode(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req mfaCodeRequest
	if err := helpers.DecodeJSON(w, r, &req); err != nil {
		helpers.RespondValidation(w, r, err.Error())
		return "", false
	}
	if req.Code == "" {
		helpers.RespondValidation(w, r, "code is required")
		return "", false
	}
	return req.Code, true
}

// handleMFAEnable activates the pending secret once the user proves they can
// produce codes from it. The response is the only sight of the recovery codes.
func (s *Server) handleMFAEnable(w http.ResponseWriter, r *http.Request) {
	code, ok := s.decodeMFACode(w, r)
	if !ok {
		return
	}
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	recoveryCodes, err := s.mfa.Enable(r.Context(), user, code, helpers.ClientIP(r), r.UserAgent())
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"status":         "mfa enabled",
		"recovery_codes": recoveryCodes,
	})
}

// handleMFADisable requires a fresh valid code; possession of a session alone
// does not unlock the second factor.
func (s *Server) handleMFADisable(w http.ResponseWriter, r *http.Request) {
	code, ok := s.decodeMFACode(w, r)
	if !ok {
		return
	}
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	if err := s.mfa.Disable(r.Context(), user, code, helpers.ClientIP(r), r.UserAgent()); err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "mfa disabled"})
}

// handleMFARecoveryCodes replaces the whole recovery-code set; previously
// unused codes stop working.
func (s *Server) handleMFARecoveryCodes(w http.ResponseWriter, r *http.Request) {
	code, ok := s.decodeMFACode(w, r)
	if !ok {
		return
	}
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	recoveryCodes, err := s.mfa.RegenerateRecoveryCodes(r.Context(), user, code)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"recovery_codes": recoveryCodes})
}
