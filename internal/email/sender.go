package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/workstream-io/workstream/internal/application/port"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

// SMTPSender delivers mail over plain SMTP
type SMTPSender struct {
	cfg    Config
	logger *zap.Logger
}

// NewSMTPSender creates an SMTP-backed mail sender
func NewSMTPSender(cfg Config, logger *zap.Logger) *SMTPSender {
	return &SMTPSender{cfg: cfg, logger: logger}
}

// Send delivers one message
func (s *SMTPSender) Send(_ context.Context, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}

	s.logger.Debug("Email sent", zap.String("to", to), zap.String("subject", subject))
	return nil
}

// LogSender is a development sender that only logs; useful when SMTP is
// not configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a logging-only mail sender
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the message instead of delivering it
func (s *LogSender) Send(_ context.Context, to, subject, body string) error {
	s.logger.Info("Email (log only)",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_length", len(body)))
	return nil
}

var (
	_ port.MailSender = (*SMTPSender)(nil)
	_ port.MailSender = (*LogSender)(nil)
)
