// Package config loads the server's settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/authcore/counterstore"
	"github.com/MrEthical07/authcore/httpapi"
	"github.com/MrEthical07/authcore/mailer"
)

// Config is everything cmd/authcore-server needs before it can build an
// engine.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	Redis counterstore.Config `envPrefix:"REDIS_"`
	HTTP  HTTPConfig          `envPrefix:"HTTP_"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`

	PasskeyRPID    string   `env:"PASSKEY_RP_ID" envDefault:"localhost"`
	PasskeyOrigins []string `env:"PASSKEY_ORIGINS" envSeparator:"," envDefault:"http://localhost:8080"`
	TOTPIssuer     string   `env:"TOTP_ISSUER" envDefault:"authcore"`

	BreachCheck bool `env:"BREACH_CHECK" envDefault:"true"`
	// AuditLog writes audit events to the server log.
	AuditLog bool `env:"AUDIT_LOG" envDefault:"true"`

	// Metrics selects the exporter: "prometheus", "otel" or "none".
	Metrics string `env:"METRICS" envDefault:"prometheus"`

	// Mail is optional. Without SMTP_HOST, messages are logged instead of sent.
	Mail mailer.Config
}

type HTTPConfig struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	CookieSecure    bool          `env:"COOKIE_SECURE" envDefault:"true"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	// TrustedProxies lists CIDRs or addresses whose X-Forwarded-For is
	// believed. Empty trusts no one.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

// Load parses and validates the environment.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if _, err := url.Parse(c.DatabaseURL); err != nil {
		return fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	if len(c.Redis.Addrs) == 0 {
		return errors.New("REDIS_ADDRS must name at least one address")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	if len(c.PasskeyOrigins) == 0 {
		return errors.New("PASSKEY_ORIGINS must name at least one origin")
	}
	if _, err := httpapi.ParseTrustedProxies(c.HTTP.TrustedProxies); err != nil {
		return fmt.Errorf("invalid HTTP_TRUSTED_PROXIES: %w", err)
	}
	switch c.Metrics {
	case "prometheus", "otel", "none":
	default:
		return fmt.Errorf("invalid METRICS %q", c.Metrics)
	}
	return nil
}

// Level returns the parsed log level. Validate has already checked it.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// MailEnabled reports whether SMTP delivery is configured.
func (c Config) MailEnabled() bool {
	return c.Mail.Host != ""
}
