package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"

	mail "github.com/go-mail/mail"
	"go.uber.org/zap"

	"intakeportal.org/internal/obs"
)

// SMTPConfig configures SMTPNotifier.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	// TLSMode is "starttls" (default), "ssl" or "none".
	TLSMode            string
	InsecureSkipVerify bool
}

// Sender delivers a composed message. The SMTP dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*mail.Message) error
}

// SMTPNotifier mails submission notices through an SMTP relay.
type SMTPNotifier struct {
	from   string
	to     []string
	sender Sender
}

// NewSMTPNotifier builds a notifier dialing cfg.Host for every message.
func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("notify: smtp host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: cfg.Host, InsecureSkipVerify: cfg.InsecureSkipVerify}
	switch strings.ToLower(cfg.TLSMode) {
	case "ssl":
		d.SSL = true
	case "none":
		d.TLSConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	}
	return NewSMTPNotifierWithSender(cfg.From, cfg.To, d)
}

// NewSMTPNotifierWithSender uses sender instead of dialing an SMTP server.
func NewSMTPNotifierWithSender(from string, to []string, sender Sender) (*SMTPNotifier, error) {
	if strings.TrimSpace(from) == "" {
		return nil, errors.New("notify: from address is required")
	}
	var recipients []string
	for _, addr := range to {
		if addr = strings.TrimSpace(addr); addr != "" {
			recipients = append(recipients, addr)
		}
	}
	if len(recipients) == 0 {
		return nil, errors.New("notify: at least one recipient is required")
	}
	return &SMTPNotifier{from: from, to: recipients, sender: sender}, nil
}

func (n *SMTPNotifier) SubmissionReceived(ctx context.Context, s Submission) error {
	m := mail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", n.to...)
	m.SetHeader("Subject", subject(s))
	if s.Email != "" {
		m.SetHeader("Reply-To", s.Email)
	}
	m.SetBody("text/plain", textBody(s))

	if err := n.sender.DialAndSend(m); err != nil {
		obs.From(ctx).Error("submission notice failed", zap.String("form_id", s.FormID), zap.Error(err))
		return fmt.Errorf("smtp send: %w", err)
	}
	obs.From(ctx).Debug("submission notice sent", zap.String("form_id", s.FormID), zap.Int("recipients", len(n.to)))
	return nil
}
