package api

import (
	"net/http"

	"github.com/comptoirhq/identity/internal/api/helpers"
)

// handleHealthz answers as long as the process serves requests.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz additionally proves the dependencies are reachable. Failure
// detail stays in the logs; the probe only learns "not ready".
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.readyCheck != nil {
		if err := s.readyCheck(r.Context()); err != nil {
			s.logger.ErrorContext(r.Context(), "readiness check failed", "error", err)
			helpers.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
