// Package mailer sends video messages as email attachments through SMTP.
package mailer

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"

	"github.com/vidblink/backend/config"
)

// Message is one outbound email with a video attachment.
type Message struct {
	To             string
	Subject        string
	Body           string
	AttachmentPath string
	AttachmentName string
}

// Mailer hands a message to the mail transport. A nil error means the
// transport confirmed hand-off; only then may the source artifact be deleted.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTP is the gomail-backed Mailer.
type SMTP struct {
	dialer *gomail.Dialer
	from   string
	logger *zap.Logger
}

// NewSMTP creates an SMTP mailer from config.
func NewSMTP(cfg config.EmailConfig, logger *zap.Logger) (*SMTP, error) {
	if cfg.SMTPHost == "" {
		return nil, fmt.Errorf("smtp host not configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	from := cfg.FromAddress
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromAddress)
	}
	return &SMTP{
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass),
		from:   from,
		logger: logger,
	}, nil
}

// Send delivers the message with its attachment.
func (s *SMTP) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)
	if msg.AttachmentPath != "" {
		name := msg.AttachmentName
		if name == "" {
			name = "video.mp4"
		}
		m.Attach(msg.AttachmentPath, gomail.Rename(name))
	}
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	s.logger.Info("email handed off", zap.String("to", msg.To))
	return nil
}
