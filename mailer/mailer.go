// Package mailer delivers verification codes and password reset links.
package mailer

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

// Notifier sends the messages the auth flows depend on.
type Notifier interface {
	SendVerificationCode(ctx context.Context, to, code string) error
	SendPasswordReset(ctx context.Context, to, token string) error
}

// Config holds SMTP settings and the public base URL used in links.
type Config struct {
	Host     string `env:"SMTP_HOST"`
	Port     int    `env:"SMTP_PORT"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"SMTP_FROM"`
	AppURL   string `env:"APP_URL" envDefault:"http://localhost:8080"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	return env.ParseAs[Config]()
}

func (c Config) validate() error {
	if c.Host == "" {
		return fmt.Errorf("missing SMTP_HOST environment variable")
	}
	if c.Port == 0 {
		return fmt.Errorf("missing SMTP_PORT environment variable")
	}
	if c.From == "" {
		return fmt.Errorf("missing SMTP_FROM environment variable")
	}
	if _, err := url.ParseRequestURI(c.AppURL); err != nil {
		return fmt.Errorf("invalid APP_URL: %w", err)
	}
	return nil
}

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPNotifier sends plain-text mail through an SMTP relay.
type SMTPNotifier struct {
	config Config
	dialer sender
	logger zerolog.Logger
}

func NewSMTPNotifier(cfg Config, logger zerolog.Logger) (*SMTPNotifier, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &SMTPNotifier{
		config: cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		logger: logger.With().Str("component", "mailer").Logger(),
	}, nil
}

func (n *SMTPNotifier) SendVerificationCode(ctx context.Context, to, code string) error {
	body := "Your verification code is " + code + ".\n\nIt expires in 15 minutes."
	return n.send(ctx, to, "Verify your email", body)
}

func (n *SMTPNotifier) SendPasswordReset(ctx context.Context, to, token string) error {
	body := "Reset your password here:\n\n" + ResetLink(n.config.AppURL, token) +
		"\n\nIf you did not ask for this, ignore this email."
	return n.send(ctx, to, "Reset your password", body)
}

func (n *SMTPNotifier) send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", n.config.From)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	if err := n.dialer.DialAndSend(msg); err != nil {
		n.logger.Error().Err(err).Str("subject", subject).Msg("smtp send failed")
		return fmt.Errorf("send %q: %w", subject, err)
	}
	n.logger.Debug().Str("subject", subject).Msg("mail sent")
	return nil
}

// ResetLink builds the URL of the password reset page for token.
func ResetLink(appURL, token string) string {
	return strings.TrimRight(appURL, "/") + "/auth/password-reset/" + url.PathEscape(token)
}

// LogNotifier writes messages to the log instead of sending them. It is
// meant for local development.
type LogNotifier struct {
	logger zerolog.Logger
	appURL string
}

func NewLogNotifier(logger zerolog.Logger, appURL string) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "mailer").Logger(), appURL: appURL}
}

func (n *LogNotifier) SendVerificationCode(_ context.Context, to, code string) error {
	n.logger.Info().Str("to", to).Str("code", code).Msg("verification code")
	return nil
}

func (n *LogNotifier) SendPasswordReset(_ context.Context, to, token string) error {
	n.logger.Info().Str("to", to).Str("link", ResetLink(n.appURL, token)).Msg("password reset")
	return nil
}

// Message is one notification captured by a Recorder.
type Message struct {
	Kind   string
	To     string
	Secret string
}

// Recorder keeps every notification in memory. Tests read codes and
// tokens back from it.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) SendVerificationCode(_ context.Context, to, code string) error {
	r.record(Message{Kind: "verification", To: to, Secret: code})
	return nil
}

func (r *Recorder) SendPasswordReset(_ context.Context, to, token string) error {
	r.record(Message{Kind: "reset", To: to, Secret: token})
	return nil
}

func (r *Recorder) record(m Message) {
	r.mu.Lock()
	r.messages = append(r.messages, m)
	r.mu.Unlock()
}

// Last returns the most recent message of kind sent to to.
func (r *Recorder) Last(kind, to string) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.messages) - 1; i >= 0; i-- {
		if m := r.messages[i]; m.Kind == kind && m.To == to {
			return m, true
		}
	}
	return Message{}, false
}

// Len returns the number of captured messages.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}
