package notify

import (
	"context"
	"log/slog"

	"gopkg.in/gomail.v2"

	"github.com/imagify/imagify/internal/model"
)

// SMTPConfig holds SMTP connection settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender sends notifications as HTML email over SMTP.
type SMTPSender struct {
	cfg    SMTPConfig
	dialer *gomail.Dialer
}

var _ Sender = (*SMTPSender)(nil)

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

// Send dials, sends and closes. gomail takes no context.
func (s *SMTPSender) Send(ctx context.Context, n *model.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.dialer.DialAndSend(buildMessage(s.cfg.From, n))
}

func buildMessage(from string, n *model.Notification) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", n.Recipients...)
	m.SetHeader("Subject", n.Subject)
	m.SetBody("text/html", n.Body)
	return m
}

// LogSender logs notifications instead of sending them. Used when SMTP is
// not configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, n *model.Notification) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("email not sent, SMTP disabled",
		"notification_id", n.ID,
		"kind", n.Kind,
		"recipients", len(n.Recipients),
		"subject", n.Subject,
	)
	return nil
}
