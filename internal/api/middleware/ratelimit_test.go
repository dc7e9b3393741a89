package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/comptoirhq/identity/internal/api/middleware"
	"github.com/comptoirhq/identity/internal/apperr"
)

func TestIPRateLimiterDrainsPerClientBucket(t *testing.T) {
	limiter := middleware.NewIPRateLimiter(1, 2)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		req.RemoteAddr = remoteAddr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	// Burst of two, then the bucket is empty.
	assert.Equal(t, http.StatusOK, serve("10.0.0.1:40001").Code)
	assert.Equal(t, http.StatusOK, serve("10.0.0.1:40002").Code)

	rr := serve("10.0.0.1:40003")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, apperr.CodeRateLimited, decodeErr(t, rr).Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))

	// A different client has its own bucket.
	assert.Equal(t, http.StatusOK, serve("10.0.0.2:40001").Code)
}

func TestIPRateLimiterKeysOnForwardedFor(t *testing.T) {
	limiter := middleware.NewIPRateLimiter(1, 1)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(forwardedFor string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		req.RemoteAddr = "10.0.0.9:40001"
		req.Header.Set("X-Forwarded-For", forwardedFor)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	// Same socket, distinct forwarded clients: each gets its own bucket.
	assert.Equal(t, http.StatusOK, serve("198.51.100.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve("198.51.100.1").Code)
	assert.Equal(t, http.StatusOK, serve("198.51.100.2").Code)
}
