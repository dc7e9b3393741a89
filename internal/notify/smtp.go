package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"
)

const smtpDialTimeout = 10 * time.Second

// SMTPConfig is the operator-supplied delivery endpoint.
type SMTPConfig struct {
	Host    string
	Port    int
	User    string
	Pass    string
	From    string
	TLSMode string // "starttls" (587) or "tls" (465)
	BaseURL string
}

// SMTPMailer sends over plain SMTP with STARTTLS or implicit TLS, never
// below TLS 1.2. Recipient addresses are re-parsed before every send so a
// crafted address cannot smuggle extra headers into the message.
type SMTPMailer struct {
	cfg    SMTPConfig
	logger *slog.Logger
}

func NewSMTPMailer(cfg SMTPConfig, logger *slog.Logger) (*SMTPMailer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("smtp port %d out of range", cfg.Port)
	}
	switch cfg.TLSMode {
	case "starttls", "tls":
	default:
		return nil, fmt.Errorf("smtp tls mode %q not supported (starttls, tls)", cfg.TLSMode)
	}
	if _, err := sanitizeAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("smtp from address: %w", err)
	}
	return &SMTPMailer{cfg: cfg, logger: logger}, nil
}

var _ Mailer = (*SMTPMailer)(nil)

func (m *SMTPMailer) SendPasswordReset(ctx context.Context, to, token string) error {
	link := tokenLink(m.cfg.BaseURL, "/auth/reset", token)
	body := "A password reset was requested for this address.\r\n\r\n" +
		"Reset link (valid for a limited time):\r\n" + link + "\r\n\r\n" +
		"If you did not request this, no action is needed.\r\n"
	return m.send(ctx, to, "Reset your password", body)
}

func (m *SMTPMailer) SendVerification(ctx context.Context, to, token string) error {
	link := tokenLink(m.cfg.BaseURL, "/auth/verify", token)
	body := "Welcome. Confirm this address to activate sign-in:\r\n\r\n" +
		link + "\r\n\r\n" +
		"If you did not create this account, you can ignore this message.\r\n"
	return m.send(ctx, to, "Verify your email address", body)
}

func (m *SMTPMailer) send(ctx context.Context, to, subject, body string) error {
	toAddr, err := sanitizeAddress(to)
	if err != nil {
		return fmt.Errorf("recipient address: %w", err)
	}
	fromAddr, err := sanitizeAddress(m.cfg.From)
	if err != nil {
		return fmt.Errorf("from address: %w", err)
	}

	addr := net.JoinHostPort(m.cfg.Host, fmt.Sprintf("%d", m.cfg.Port))
	dialer := &net.Dialer{Timeout: smtpDialTimeout}
	tlsCfg := &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}

	var conn net.Conn
	if m.cfg.TLSMode == "tls" {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsCfg)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("connecting to smtp server: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Quit()

	if m.cfg.TLSMode == "starttls" {
		if err := client.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("starttls upgrade: %w", err)
		}
	}

	if m.cfg.User != "" {
		auth := smtp.PlainAuth("", m.cfg.User, m.cfg.Pass, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(fromAddr); err != nil {
		return fmt.Errorf("smtp MAIL: %w", err)
	}
	if err := client.Rcpt(toAddr); err != nil {
		return fmt.Errorf("smtp RCPT: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(buildMessage(fromAddr, toAddr, subject, body)); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing message: %w", err)
	}

	// Recipient addresses stay out of the logs.
	m.logger.InfoContext(ctx, "email sent", "subject", subject)
	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// sanitizeAddress parses the address and rejects anything carrying CR or LF,
// which is how header injection rides into an SMTP conversation.
func sanitizeAddress(address string) (string, error) {
	if strings.ContainsAny(address, "\r\n") {
		return "", fmt.Errorf("address contains control characters")
	}
	parsed, err := mail.ParseAddress(address)
	if err != nil {
		return "", fmt.Errorf("invalid address: %w", err)
	}
	return parsed.Address, nil
}
