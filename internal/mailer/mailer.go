package mailer

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

var ErrDelivery = errors.New("email delivery failed")

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// Sender delivers one html email.
type Sender interface {
	Send(ctx context.Context, to, subject, html string) error
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	FromName string
}

func (c SMTPConfig) Configured() bool {
	return c.Host != "" && c.Port != "" && c.Username != "" && c.Password != ""
}

// New returns an SMTP sender, or a log-only sender when SMTP is not configured.
func New(cfg SMTPConfig, log *zerolog.Logger) Sender {
	if !cfg.Configured() {
		log.Warn().Msg("SMTP is not configured, emails will only be logged")
		return &LogSender{log: log}
	}
	return &SMTP{cfg: cfg, log: log}
}

type SMTP struct {
	cfg SMTPConfig
	log *zerolog.Logger
}

func (s *SMTP) Send(ctx context.Context, to, subject, html string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}

	from := s.cfg.Username
	if s.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", safe(s.cfg.FromName), s.cfg.Username)
	}
	msg := compose(from, safe(to), safe(subject), html)

	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)
	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)

	if err := smtp.SendMail(addr, auth, s.cfg.Username, []string{to}, []byte(msg)); err != nil {
		s.log.Warn().Err(err).Str("to", to).Msg("failed to send email")
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}

	s.log.Info().Str("to", to).Str("subject", subject).Msg("📧 email sent")
	return nil
}

type LogSender struct {
	log *zerolog.Logger
}

func (s *LogSender) Send(_ context.Context, to, subject, _ string) error {
	s.log.Info().Str("to", to).Str("subject", subject).Msg("[MOCK EMAIL]")
	return nil
}

func compose(from, to, subject, html string) string {
	const boundary = "----=_GUESTLIST_BOUNDARY"

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("From: %s\r\n", from))
	sb.WriteString(fmt.Sprintf("To: %s\r\n", to))
	sb.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject)))
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary))

	sb.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	sb.WriteString(PlainText(html) + "\r\n")

	sb.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	sb.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	sb.WriteString(html + "\r\n")

	sb.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	return sb.String()
}

// PlainText strips tags from an html body for the text/plain part.
func PlainText(html string) string {
	lines := strings.Split(tagPattern.ReplaceAllString(html, ""), "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func safe(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(strings.TrimSpace(s))
}
