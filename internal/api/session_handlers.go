package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/comptoirhq/identity/internal/api/helpers"
	"github.com/comptoirhq/identity/internal/api/middleware"
	"github.com/comptoirhq/identity/internal/apperr"
	"github.com/comptoirhq/identity/internal/model"
)

type sessionResponse struct {
	ID             string `json:"id"`
	CreatedAt      string `json:"created_at"`
	LastSeenAt     string `json:"last_seen_at"`
	AbsoluteExpiry string `json:"absolute_expiry"`
	IP             string `json:"ip,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`
}

func sessionResponseFrom(sess *model.Session) sessionResponse {
	return sessionResponse{
		ID:             sess.ID.String(),
		CreatedAt:      sess.CreatedAt.Format(timeFormat),
		LastSeenAt:     sess.LastSeenAt.Format(timeFormat),
		AbsoluteExpiry: sess.AbsoluteExpiry.Format(timeFormat),
		IP:             sess.IP,
		UserAgent:      sess.UserAgent,
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.MustGetUserID(r.Context())

	sessions, err := s.sessions.ListActiveForUser(r.Context(), userID)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for i := range sessions {
		out = append(out, sessionResponseFrom(&sessions[i]))
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// handleGetSession returns the session plus a hijack diagnostic comparing its
// recorded origin with the origin of this request. Sessions of other users
// are a 404, indistinguishable from absent ones.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		helpers.RespondValidation(w, r, "session id must be a UUID")
		return
	}
	userID := middleware.MustGetUserID(r.Context())

	diag, err := s.sessions.InspectSession(r.Context(), id, userID, helpers.ClientIP(r), r.UserAgent())
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"session":            sessionResponseFrom(diag.Session),
		"ip_changed":         diag.IPChanged,
		"user_agent_changed": diag.UserAgentChanged,
	})
}

func (s *Server) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		helpers.RespondValidation(w, r, "session id must be a UUID")
		return
	}
	userID := middleware.MustGetUserID(r.Context())

	ok, err := s.sessions.Terminate(r.Context(), id, userID)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}
	if !ok {
		helpers.RespondError(w, r, apperr.NotFound("session"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
