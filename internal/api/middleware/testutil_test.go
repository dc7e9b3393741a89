package middleware_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/comptoirhq/identity/internal/api/middleware"
	"github.com/comptoirhq/identity/internal/auth"
	"github.com/comptoirhq/identity/internal/model"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

// The middleware logs through the process-default slog logger; keep test
// output readable.
func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	os.Exit(m.Run())
}

func newProvider() *auth.JWTProvider {
	return auth.NewJWTProvider(testJWTSecret, 15*time.Minute, 24*time.Hour, 5*time.Minute)
}

func testUser() *model.User {
	return &model.User{
		ID:       uuid.New(),
		TenantID: 7,
		Email:    "person@example.com",
		IsActive: true,
	}
}

// identityProbe runs behind the middleware under test and records what the
// request context carried when (and if) the inner handler ran.
type identityProbe struct {
	called   bool
	userID   uuid.UUID
	tenantID int64
	claims   *auth.Claims
}

func (p *identityProbe) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.called = true
		p.userID, _ = middleware.GetUserID(r.Context())
		p.tenantID, _ = middleware.GetTenantID(r.Context())
		p.claims = middleware.GetClaims(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

// errBody is the wire shape RespondError writes.
type errBody struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func decodeErr(t *testing.T, rr *httptest.ResponseRecorder) errBody {
	t.Helper()
	var body errBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}
