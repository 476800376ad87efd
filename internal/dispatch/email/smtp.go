package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// SMTPConfig holds SMTP mailer configuration.
type SMTPConfig struct {
	Enabled      bool
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	FromAddress  string
	BaseURL      string  // base for manage/unsubscribe links
	RateLimit    float64 // messages per second, 0 = unlimited
}

// SMTPMailer implements Mailer via SMTP with STARTTLS. A status update is
// one batched call at the Mailer boundary; inside it, each recipient gets a
// personalized message (its own manage link) within a single SMTP session.
type SMTPMailer struct {
	config   SMTPConfig
	auth     smtp.Auth
	renderer *renderer
	limiter  *rate.Limiter
}

// NewSMTPMailer creates a new SMTP mailer.
// Returns an error if enabled but required config is missing.
func NewSMTPMailer(config SMTPConfig) (*SMTPMailer, error) {
	if config.Enabled {
		if config.SMTPHost == "" {
			return nil, errors.New("smtp mailer: host is required when enabled")
		}
		if config.FromAddress == "" {
			return nil, errors.New("smtp mailer: from address is required when enabled")
		}
	}

	if config.SMTPPort == 0 {
		config.SMTPPort = 587
	}

	var auth smtp.Auth
	if config.SMTPUser != "" && config.SMTPPassword != "" {
		auth = smtp.PlainAuth("", config.SMTPUser, config.SMTPPassword, config.SMTPHost)
	}

	r, err := newRenderer()
	if err != nil {
		return nil, fmt.Errorf("smtp mailer: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}

	slog.Info("smtp mailer configured",
		"enabled", config.Enabled,
		"smtp_host", config.SMTPHost,
		"smtp_port", config.SMTPPort,
		"from_address", config.FromAddress,
		"rate_limit", config.RateLimit,
	)

	return &SMTPMailer{
		config:   config,
		auth:     auth,
		renderer: r,
		limiter:  limiter,
	}, nil
}

// SendVerification sends a single verification message.
func (m *SMTPMailer) SendVerification(ctx context.Context, msg VerificationMessage) error {
	if !m.config.Enabled {
		slog.Warn("smtp mailer disabled, skipping verification send", "to", maskAddress(msg.To))
		return nil
	}

	subject, body, err := m.renderer.renderVerification(msg)
	if err != nil {
		return fmt.Errorf("render verification: %w", err)
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	return m.send(ctx, []outgoing{{to: msg.To, subject: subject, body: body}})
}

// SendStatusUpdate sends the event to every recipient within one SMTP
// session. A recipient that is rejected or fails to render is logged and
// skipped; the remaining recipients still get their message.
func (m *SMTPMailer) SendStatusUpdate(ctx context.Context, msg StatusUpdateMessage) error {
	if !m.config.Enabled {
		slog.Warn("smtp mailer disabled, skipping status update send",
			"recipient_count", len(msg.Recipients),
		)
		return nil
	}

	if len(msg.Recipients) == 0 {
		return nil
	}

	batch := make([]outgoing, 0, len(msg.Recipients))
	for _, rcpt := range msg.Recipients {
		subject, body, err := m.renderer.renderStatusUpdate(msg, rcpt, m.config.BaseURL)
		if err != nil {
			slog.Error("failed to render status update", "to", maskAddress(rcpt.Address), "error", err)
			continue
		}
		batch = append(batch, outgoing{to: rcpt.Address, subject: subject, body: body})
	}

	if len(batch) == 0 {
		return errors.New("no renderable recipients")
	}

	return m.send(ctx, batch)
}

type outgoing struct {
	to      string
	subject string
	body    string
}

// send delivers a batch of messages over a single SMTP connection.
func (m *SMTPMailer) send(ctx context.Context, batch []outgoing) error {
	addr := fmt.Sprintf("%s:%d", m.config.SMTPHost, m.config.SMTPPort)

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer func() { _ = conn.Close() }()

	client, err := smtp.NewClient(conn, m.config.SMTPHost)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{
			ServerName: m.config.SMTPHost,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if m.auth != nil {
		if err := client.Auth(m.auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	from := extractEmail(m.config.FromAddress)
	var sent int

	for _, msg := range batch {
		if err := m.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}

		if err := m.transmit(client, from, msg); err != nil {
			slog.Warn("failed to send message", "to", maskAddress(msg.to), "error", err)
			if err := client.Reset(); err != nil {
				return fmt.Errorf("reset after failed send: %w", err)
			}
			continue
		}
		sent++
	}

	if sent == 0 {
		return errors.New("no messages delivered")
	}

	slog.Info("email batch sent", "sent", sent, "total", len(batch))
	return client.Quit()
}

func (m *SMTPMailer) transmit(client *smtp.Client, from string, msg outgoing) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(msg.to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}

	if _, err := w.Write(m.buildMessage(msg)); err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	return w.Close()
}

// buildMessage constructs the message with headers.
func (m *SMTPMailer) buildMessage(msg outgoing) []byte {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("From: %s\r\n", m.config.FromAddress))
	b.WriteString(fmt.Sprintf("To: %s\r\n", msg.to))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.body)

	return []byte(b.String())
}

// extractEmail extracts the address from formats like "Name <a@b.com>".
func extractEmail(address string) string {
	if idx := strings.Index(address, "<"); idx != -1 {
		end := strings.Index(address, ">")
		if end > idx {
			return address[idx+1 : end]
		}
	}
	return address
}

// maskAddress hides most of an email address for logging.
func maskAddress(address string) string {
	at := strings.Index(address, "@")
	if at <= 1 {
		return "***"
	}
	return address[:1] + "***" + address[at:]
}
