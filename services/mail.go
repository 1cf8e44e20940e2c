package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/wneessen/go-mail"
)

// Mailer delivers sign-in links
type Mailer interface {
	SendMagicLink(ctx context.Context, to, link string) error
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// Configured reports whether enough is set to reach a server
func (c SMTPConfig) Configured() bool {
	return c.Host != "" && c.Port != "" && c.Username != "" && c.Password != ""
}

// SMTPMailer sends mail through an authenticated SMTP relay
type SMTPMailer struct {
	cfg SMTPConfig
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) SendMagicLink(ctx context.Context, to, link string) error {
	if !m.cfg.Configured() {
		return errors.New("SMTP not fully configured")
	}

	port, err := strconv.Atoi(m.cfg.Port)
	if err != nil {
		return fmt.Errorf("invalid SMTP port %q: %w", m.cfg.Port, err)
	}

	from := m.cfg.From
	if from == "" {
		from = m.cfg.Username
	}

	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject("Your FlowSync sign-in link")
	msg.SetBodyString(mail.TypeTextPlain, fmt.Sprintf(
		"Click the link below to sign in to FlowSync:\n\n%s\n\nIf you didn't request this link, you can safely ignore this email.", link))

	client, err := mail.NewClient(m.cfg.Host,
		mail.WithPort(port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.Username),
		mail.WithPassword(m.cfg.Password),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	)
	if err != nil {
		return fmt.Errorf("failed to create mail client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
