// Package notify sends transactional email: welcome, attempt results and certificates.
package notify

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"ebslms/internal/platform/logger"
)

type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

type SMTPMailer struct {
	host string
	port int
	user string
	pass string
	from string
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer returns nil when SMTP is not configured.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if strings.TrimSpace(cfg.Host) == "" || cfg.Port <= 0 || strings.TrimSpace(cfg.From) == "" {
		return nil
	}
	return &SMTPMailer{
		host: strings.TrimSpace(cfg.Host),
		port: cfg.Port,
		user: strings.TrimSpace(cfg.User),
		pass: cfg.Pass,
		from: strings.TrimSpace(cfg.From),
		send: smtp.SendMail,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := fmt.Sprintf("%s:%d", m.host, m.port)

	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.pass, m.host)
	}

	if err := m.send(addr, auth, m.from, []string{msg.To}, buildMIME(m.from, msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func buildMIME(from string, msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")

	if msg.HTML == "" {
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.Text + "\r\n")
		return []byte(b.String())
	}

	boundary := randomBoundary()
	b.WriteString("Content-Type: multipart/alternative; boundary=" + boundary + "\r\n\r\n")
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(msg.Text + "\r\n")
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.WriteString(msg.HTML + "\r\n")
	b.WriteString("--" + boundary + "--\r\n")
	return []byte(b.String())
}

func randomBoundary() string {
	var buf [12]byte
	_, _ = rand.Read(buf[:])
	return "ebslms-" + hex.EncodeToString(buf[:])
}

// LogMailer only logs outgoing mail. Used in development when SMTP is not configured.
type LogMailer struct {
	log *logger.Logger
}

func NewLogMailer(log *logger.Logger) *LogMailer {
	return &LogMailer{log: log.With("service", "LogMailer")}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.log.Info("email (dev)", "to", msg.To, "subject", msg.Subject, "text", msg.Text)
	return nil
}

// RetryMailer retries failed sends with exponential backoff: delay, 2*delay, ...
type RetryMailer struct {
	next         Mailer
	log          *logger.Logger
	maxAttempts  int
	initialDelay time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
}

func NewRetryMailer(next Mailer, maxAttempts int, initialDelay time.Duration, log *logger.Logger) *RetryMailer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if initialDelay <= 0 {
		initialDelay = time.Second
	}
	return &RetryMailer{
		next:         next,
		log:          log.With("service", "RetryMailer"),
		maxAttempts:  maxAttempts,
		initialDelay: initialDelay,
		sleep:        sleepCtx,
	}
}

func (m *RetryMailer) Send(ctx context.Context, msg Message) error {
	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		err := m.next.Send(ctx, msg)
		if err == nil {
			if attempt > 1 {
				m.log.Info("email sent after retry", "to", msg.To, "attempt", attempt)
			}
			return nil
		}
		lastErr = err
		m.log.Warn("email send failed", "to", msg.To, "attempt", attempt, "max_attempts", m.maxAttempts, "error", err)

		if attempt == m.maxAttempts {
			break
		}
		if err := m.sleep(ctx, backoffDelay(m.initialDelay, attempt)); err != nil {
			return errors.Join(lastErr, err)
		}
	}
	return fmt.Errorf("email to %s failed after %d attempts: %w", msg.To, m.maxAttempts, lastErr)
}

// backoffDelay is the wait after the given failed attempt (1-based).
func backoffDelay(initial time.Duration, attempt int) time.Duration {
	return initial * time.Duration(1<<(attempt-1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
