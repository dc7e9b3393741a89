// Package notify delivers the identity core's outbound mail: password-reset
// and email-verification links. The raw tokens pass through here exactly
// once; nothing in this package persists them.
package notify

import (
	"context"
	"log/slog"
	"net/url"
)

// Mailer delivers a single-use token to a recipient. Implementations decide
// transport and formatting; callers hand over the raw token and move on.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, token string) error
	SendVerification(ctx context.Context, to, token string) error
}

// LogMailer writes would-be emails to the log instead of sending them.
// Development and tests only: the raw token appears in the output.
type LogMailer struct {
	baseURL string
	logger  *slog.Logger
}

func NewLogMailer(baseURL string, logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{baseURL: baseURL, logger: logger}
}

func (m *LogMailer) SendPasswordReset(ctx context.Context, to, token string) error {
	m.logger.InfoContext(ctx, "password reset email",
		"to", to,
		"link", tokenLink(m.baseURL, "/auth/reset", token),
	)
	return nil
}

func (m *LogMailer) SendVerification(ctx context.Context, to, token string) error {
	m.logger.InfoContext(ctx, "verification email",
		"to", to,
		"link", tokenLink(m.baseURL, "/auth/verify", token),
	)
	return nil
}

func tokenLink(base, path, token string) string {
	return base + path + "?token=" + url.QueryEscape(token)
}
