package helpers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/comptoirhq/identity/internal/apperr"
)

// RespondJSON writes data as a JSON body with the given status.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("response encoding failed", "error", err)
	}
}

// RespondError maps a domain error onto the wire: the apperr carries its own
// status, stable code and client-safe message. Anything that is not an apperr
// is treated as internal; its text never leaves the process. Lockout and
// rate-limit errors gain a Retry-After header.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.As(err)
	if ae == nil {
		ae = apperr.Internal(err)
	}
	// Replay is an internal code; clients see the uniform invalid-token error.
	if ae.Code == apperr.CodeTokenReplayDetected {
		ae = apperr.TokenInvalid()
	}

	if ae.Code == apperr.CodeInternal {
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", ae.Cause)
	}

	if ae.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(ae.RetryAfter))
	}
	RespondJSON(w, ae.HTTPStatus, ae)
}

// RespondValidation is the shorthand for malformed input discovered in the
// handler itself, before any service runs.
func RespondValidation(w http.ResponseWriter, r *http.Request, msg string) {
	RespondError(w, r, apperr.Validation(msg))
}
