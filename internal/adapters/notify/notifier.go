// Package notify contains implementations of the secondary.Notifier port.
package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/example/approvals/internal/ports/secondary"
)

// LogNotifier writes notifications to a logger instead of delivering them.
// It is the default when no mail server is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs each message at info level.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, msg secondary.NotificationMessage) error {
	n.logger.InfoContext(ctx, "notification",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Body,
	)
	return nil
}

// DefaultSMTPTimeout bounds a whole delivery when the context has no earlier deadline.
const DefaultSMTPTimeout = 10 * time.Second

// SMTPConfig holds mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration // zero means DefaultSMTPTimeout
}

func (c SMTPConfig) Validate() error {
	if c.Host == "" {
		return errors.New("smtp host is required")
	}
	if c.Port <= 0 {
		return errors.New("smtp port must be positive")
	}
	if c.From == "" {
		return errors.New("smtp from address is required")
	}
	if c.Timeout < 0 {
		return errors.New("smtp timeout must not be negative")
	}
	return nil
}

// SendFunc delivers one message. It must give up once ctx is done.
type SendFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier delivers notifications as plain-text mail.
type SMTPNotifier struct {
	cfg  SMTPConfig
	auth smtp.Auth
	send SendFunc
}

// NewSMTPNotifier creates a notifier for the given server.
// PLAIN auth is used when a username is configured.
func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultSMTPTimeout
	}

	n := &SMTPNotifier{cfg: cfg, send: sendMail}
	if cfg.Username != "" {
		n.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return n, nil
}

// WithSendFunc replaces the transport, for tests.
func (n *SMTPNotifier) WithSendFunc(send SendFunc) *SMTPNotifier {
	n.send = send
	return n
}

func (n *SMTPNotifier) Notify(ctx context.Context, msg secondary.NotificationMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to := headerValue(msg.To)
	if to == "" {
		return errors.New("notification has no recipient")
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	if err := n.send(ctx, addr, n.auth, n.cfg.From, []string{to}, n.compose(msg)); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", to, err)
	}
	return nil
}

func (n *SMTPNotifier) compose(msg secondary.NotificationMessage) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", headerValue(n.cfg.From))
	fmt.Fprintf(&b, "To: %s\r\n", headerValue(msg.To))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", headerValue(msg.Subject)))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

// headerValue folds a value onto one line so it cannot start a new header.
func headerValue(v string) string {
	v = strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, v)
	return strings.TrimSpace(v)
}

// sendMail is smtp.SendMail with the dial and every later exchange bounded by ctx.
func sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	host, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

var (
	_ secondary.Notifier = (*LogNotifier)(nil)
	_ secondary.Notifier = (*SMTPNotifier)(nil)
)
