package event

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MailSettings controls SMTP delivery. It is read on every Notify so that
// changes take effect without restarting.
type MailSettings struct {
	Enabled  bool
	Host     string
	Port     int
	From     string
	To       []string
	Username string
	Password string
}

// ErrMailNotConfigured is returned by Notify when mail is enabled but no
// server or recipient is set.
var ErrMailNotConfigured = errors.New("mail not configured")

// SendFunc delivers one message. It matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// MailSink delivers notifications by email. Emit is a no-op.
type MailSink struct {
	settings func() MailSettings
	send     SendFunc
}

// NewMailSink creates a MailSink reading its settings from settings.
func NewMailSink(settings func() MailSettings) *MailSink {
	return &MailSink{settings: settings, send: smtp.SendMail}
}

// WithSender replaces the SMTP transport.
func (m *MailSink) WithSender(send SendFunc) *MailSink {
	m.send = send
	return m
}

// Emit implements Sink.
func (m *MailSink) Emit(context.Context, Event) error { return nil }

// Notify implements Sink. Nothing is sent when mail is disabled.
func (m *MailSink) Notify(ctx context.Context, e Event) error {
	cfg := m.settings()
	if !cfg.Enabled {
		return nil
	}
	if cfg.Host == "" || len(cfg.To) == 0 {
		return ErrMailNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	if err := m.send(addr, auth, cfg.From, cfg.To, composeMessage(cfg, e)); err != nil {
		return fmt.Errorf("send %s notification via %s: %w", e.Kind, addr, err)
	}
	return nil
}

func subject(e Event) string {
	switch e.Kind {
	case KindRestartCompleted:
		return "Restart completed"
	case KindRestartFailed:
		return "Restart failed"
	case KindHostDown:
		if name, ok := e.Payload["hostname"].(string); ok {
			return "Host down: " + name
		}
		return "Host down"
	default:
		return string(e.Kind)
	}
}

func composeMessage(cfg MailSettings, e Event) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: [neustart] %s\r\n", subject(e))
	fmt.Fprintf(&b, "Date: %s\r\n", e.Timestamp.Format(time.RFC1123Z))
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")

	fmt.Fprintf(&b, "Event: %s\r\n", e.Kind)
	if e.JobID != "" {
		fmt.Fprintf(&b, "Job: %s\r\n", e.JobID)
	}
	fmt.Fprintf(&b, "Time: %s\r\n", e.Timestamp.Format(time.RFC3339))

	keys := make([]string, 0, len(e.Payload))
	for k := range e.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\r\n", k, e.Payload[k])
	}
	return b.Bytes()
}
