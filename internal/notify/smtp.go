package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

const (
	DefaultSMTPPort = 587
	smtpTimeout     = 30 * time.Second
)

// ErrAuthFailed marks a rejected SMTP login.
var ErrAuthFailed = errors.New("smtp authentication failed")

// Email is one outbound message.
type Email struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
}

type Mailer interface {
	Send(ctx context.Context, email Email) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	// TLS false allows opportunistic STARTTLS only; it is meant for local relays.
	TLS bool
}

type smtpSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPMailer delivers mail with go-mail.
type SMTPMailer struct {
	client smtpSender
	host   string
	logger *zap.Logger
}

func NewSMTPMailer(cfg SMTPConfig, logger *zap.Logger) (*SMTPMailer, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, errors.New("smtp host is required")
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultSMTPPort
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTimeout(smtpTimeout),
	}
	switch {
	case port == 465:
		opts = append(opts, mail.WithSSL())
	case cfg.TLS:
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSOpportunistic))
	}
	if cfg.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.User),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}

	return &SMTPMailer{client: client, host: host, logger: logger}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, email Email) error {
	msg, err := buildMessage(email)
	if err != nil {
		return err
	}

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		if isAuthError(err) {
			m.logger.Error("smtp server rejected the credentials",
				zap.String("smtp_host", m.host),
				zap.String("hint", "check smtp.user and smtp.password (or smtp.password-file); many providers require an app password"),
				zap.Error(err),
			)
			return fmt.Errorf("%w: %w", ErrAuthFailed, err)
		}
		return fmt.Errorf("send mail to %s: %w", email.To, err)
	}
	return nil
}

func buildMessage(email Email) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(email.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", email.From, err)
	}
	if err := msg.To(email.To); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", email.To, err)
	}
	msg.Subject(email.Subject)
	msg.SetBodyString(mail.TypeTextPlain, email.Text)
	if email.HTML != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, email.HTML)
	}
	return msg, nil
}

func isAuthError(err error) bool {
	text := strings.ToLower(err.Error())
	for _, marker := range []string{"535", "534", "authentication failed", "auth failed", "invalid credentials", "username and password not accepted"} {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
