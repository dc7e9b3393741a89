package notify

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenLink(t *testing.T) {
	link := tokenLink("https://app.example.com", "/auth/reset", "abc+/=123")
	assert.Equal(t, "https://app.example.com/auth/reset?token=abc%2B%2F%3D123", link)
}

func TestLogMailerWritesLinksToTheLog(t *testing.T) {
	var buf bytes.Buffer
	m := NewLogMailer("http://localhost:3000", slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, m.SendPasswordReset(context.Background(), "person@example.com", "tok-reset-1"))
	assert.Contains(t, buf.String(), "person@example.com")
	assert.Contains(t, buf.String(), "/auth/reset?token=tok-reset-1")

	buf.Reset()
	require.NoError(t, m.SendVerification(context.Background(), "person@example.com", "tok-verify-1"))
	assert.Contains(t, buf.String(), "/auth/verify?token=tok-verify-1")
}
