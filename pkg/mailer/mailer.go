package mailer

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/noah-isme/course-automation/pkg/config"
)

// Mailer delivers automation emails over SMTP.
type Mailer struct {
	dialer *gomail.Dialer
	from   string
}

// New builds an SMTP mailer. From falls back to the SMTP username.
func New(cfg config.SMTPConfig) *Mailer {
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &Mailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   from,
	}
}

// SendEmail sends a single message. HTML bodies are detected by a leading tag.
func (m *Mailer) SendEmail(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := m.buildMessage(to, subject, body)
	if err != nil {
		return err
	}
	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}

func (m *Mailer) buildMessage(to, subject, body string) (*gomail.Message, error) {
	if strings.TrimSpace(to) == "" {
		return nil, fmt.Errorf("email recipient is empty")
	}
	if m.from == "" {
		return nil, fmt.Errorf("email sender is not configured")
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	contentType := "text/plain"
	if strings.HasPrefix(strings.TrimSpace(body), "<") {
		contentType = "text/html"
	}
	msg.SetBody(contentType, body)
	return msg, nil
}
