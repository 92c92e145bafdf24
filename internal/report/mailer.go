package report

import (
	"errors"
	"fmt"
	"net"
	"net/smtp"

	"github.com/jordan-wright/email"
)

var ErrMailerNotConfigured = errors.New("mailer is not configured")

// Mailer delivers report emails over SMTP.
type Mailer struct {
	addr string
	auth smtp.Auth
	from string
}

type MailerConfig struct {
	Addr     string // host:port
	Username string
	Password string
	From     string
}

// NewMailer returns nil when no SMTP address is configured; sending through a
// nil mailer yields ErrMailerNotConfigured.
func NewMailer(cfg MailerConfig) (*Mailer, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	host, _, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("parse smtp address: %w", err)
	}
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &Mailer{
		addr: cfg.Addr,
		auth: smtp.PlainAuth("", cfg.Username, cfg.Password, host),
		from: from,
	}, nil
}

func (m *Mailer) Send(to, subject, textBody string) error {
	if m == nil {
		return ErrMailerNotConfigured
	}
	em := email.NewEmail()
	em.From = m.from
	em.To = []string{to}
	em.Subject = subject
	em.Text = []byte(textBody)
	return em.Send(m.addr, m.auth)
}
