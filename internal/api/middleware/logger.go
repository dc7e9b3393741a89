package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/comptoirhq/identity/internal/api/helpers"
)

// RequestLogger emits one line per completed request. 5xx log as errors,
// 4xx as warnings. Bodies and credentials never appear here.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		level := slog.LevelInfo
		switch {
		case ww.Status() >= 500:
			level = slog.LevelError
		case ww.Status() >= 400:
			level = slog.LevelWarn
		}

		slog.Log(r.Context(), level, "http request",
			"status", ww.Status(),
			"method", r.Method,
			"path", r.URL.Path,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"req_id", middleware.GetReqID(r.Context()),
			"ip", helpers.ClientIP(r),
		)
	})
}
