package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal/secret"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/ratelimit"
	"github.com/MrEthical07/authcore/session"
)

// Config is the full engine configuration. Start from DefaultConfig and
// override what you need.
type Config struct {
	Password      PasswordConfig
	Session       SessionConfig
	LoginThrottle LoginThrottleConfig
	Buckets       BucketsConfig
	Secrets       SecretsConfig
	Passkey       PasskeyConfig
	TwoFactor     TwoFactorConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the hashing parameters and the strength policy.
// Argon2 values below the password package floor are rejected.
type PasswordConfig struct {
	Argon2    password.Config
	MinLength int
	MaxLength int
	// BreachCheck consults the breach corpus given to the Builder (Pwned
	// Passwords by default) for every new password.
	BreachCheck bool
}

/*
====================================
SESSION CONFIG
====================================
*/

type SessionConfig struct {
	Lifetime    time.Duration
	RenewWithin time.Duration
	// RequirePasskey makes a passkey assertion mandatory for users that
	// have registered one.
	RequirePasskey bool
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// LoginThrottleConfig configures the per (user, address) backoff.
type LoginThrottleConfig struct {
	Timeouts  []time.Duration
	Grace     int
	Cutoff    time.Duration
	ResetType ratelimit.ResetType
}

// BucketConfig sizes one token bucket.
type BucketConfig struct {
	Max      int
	Interval time.Duration
}

// BucketsConfig sizes every bucket the engine uses. The refill strategy of
// each bucket is fixed; only its size is configurable.
type BucketsConfig struct {
	// AccountLogin caps login attempts per account across all addresses
	// (constant refill).
	AccountLogin BucketConfig
	// Signup caps new accounts per client address (fixed refill).
	Signup BucketConfig
	// EmailVerification caps code guesses per user (fixed refill).
	EmailVerification BucketConfig
	// EmailResend caps resent codes per user (constant refill).
	EmailResend BucketConfig
	// PasswordReset caps reset emails per client address (constant refill).
	PasswordReset BucketConfig
	// TwoFactor caps TOTP guesses per user (fixed refill).
	TwoFactor BucketConfig
	// PasskeyChallenge caps challenge issuance per client address
	// (constant refill).
	PasskeyChallenge BucketConfig
}

/*
====================================
SECRET TOKEN CONFIG
====================================
*/

type SecretsConfig struct {
	VerificationCodeLength int
	VerificationTTL        time.Duration
	ResetTTL               time.Duration
}

/*
====================================
PASSKEY / TOTP CONFIG
====================================
*/

type PasskeyConfig struct {
	RPID         string
	Origins      []string
	ChallengeTTL time.Duration
}

type TwoFactorConfig struct {
	Issuer string
	Skew   uint
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Password: PasswordConfig{
			Argon2:      password.DefaultConfig(),
			MinLength:   password.DefaultMinLength,
			MaxLength:   password.DefaultMaxLength,
			BreachCheck: true,
		},
		Session: SessionConfig{
			Lifetime:    session.DefaultDuration,
			RenewWithin: session.DefaultRenewWithin,
		},
		LoginThrottle: LoginThrottleConfig{
			Timeouts:  append([]time.Duration(nil), ratelimit.DefaultLoginTimeouts...),
			Grace:     5,
			Cutoff:    24 * time.Hour,
			ResetType: ratelimit.ResetInstant,
		},
		Buckets: BucketsConfig{
			AccountLogin:      BucketConfig{Max: 20, Interval: time.Minute},
			Signup:            BucketConfig{Max: 5, Interval: time.Hour},
			EmailVerification: BucketConfig{Max: 5, Interval: 30 * time.Minute},
			EmailResend:       BucketConfig{Max: 5, Interval: time.Minute},
			PasswordReset:     BucketConfig{Max: 3, Interval: 10 * time.Minute},
			TwoFactor:         BucketConfig{Max: 5, Interval: 30 * time.Minute},
			PasskeyChallenge:  BucketConfig{Max: 30, Interval: 2 * time.Second},
		},
		Secrets: SecretsConfig{
			VerificationCodeLength: secret.DefaultCodeLength,
			VerificationTTL:        15 * time.Minute,
			ResetTTL:               2 * time.Hour,
		},
		Passkey: PasskeyConfig{
			RPID:         "localhost",
			Origins:      []string{"http://localhost:8080"},
			ChallengeTTL: 5 * time.Minute,
		},
		TwoFactor: TwoFactorConfig{
			Issuer: "authcore",
			Skew:   1,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.LoginThrottle.Timeouts = append([]time.Duration(nil), cfg.LoginThrottle.Timeouts...)
	out.Passkey.Origins = append([]string(nil), cfg.Passkey.Origins...)
	return out
}

// Validate reports the first problem found in c.
func (c *Config) Validate() error {
	// Password
	if err := password.ValidateConfig(c.Password.Argon2); err != nil {
		return err
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}

	// Session
	lifetime := session.Lifetime{Duration: c.Session.Lifetime, RenewWithin: c.Session.RenewWithin}
	if err := lifetime.Validate(); err != nil {
		return fmt.Errorf("Session: %w", err)
	}

	// Login throttle
	if len(c.LoginThrottle.Timeouts) == 0 {
		return errors.New("LoginThrottle Timeouts must not be empty")
	}
	if c.LoginThrottle.Grace < 0 {
		return errors.New("LoginThrottle Grace must be >= 0")
	}
	if c.LoginThrottle.Cutoff < 0 {
		return errors.New("LoginThrottle Cutoff must be >= 0")
	}

	// Buckets
	buckets := map[string]BucketConfig{
		"AccountLogin":      c.Buckets.AccountLogin,
		"Signup":            c.Buckets.Signup,
		"EmailVerification": c.Buckets.EmailVerification,
		"EmailResend":       c.Buckets.EmailResend,
		"PasswordReset":     c.Buckets.PasswordReset,
		"TwoFactor":         c.Buckets.TwoFactor,
		"PasskeyChallenge":  c.Buckets.PasskeyChallenge,
	}
	for name, b := range buckets {
		if b.Max <= 0 || b.Interval <= 0 {
			return fmt.Errorf("Buckets %s needs Max > 0 and Interval > 0", name)
		}
	}

	// Secrets
	if c.Secrets.VerificationCodeLength < 6 || c.Secrets.VerificationCodeLength > 16 {
		return errors.New("Secrets VerificationCodeLength must be within [6, 16]")
	}
	if c.Secrets.VerificationTTL <= 0 || c.Secrets.VerificationTTL > 24*time.Hour {
		return errors.New("Secrets VerificationTTL must be within (0, 24h]")
	}
	if c.Secrets.ResetTTL <= 0 || c.Secrets.ResetTTL > 24*time.Hour {
		return errors.New("Secrets ResetTTL must be within (0, 24h]")
	}

	// Passkey
	if c.Passkey.RPID == "" || len(c.Passkey.Origins) == 0 {
		return errors.New("Passkey RPID and Origins are required")
	}
	if c.Passkey.ChallengeTTL <= 0 || c.Passkey.ChallengeTTL > 10*time.Minute {
		return errors.New("Passkey ChallengeTTL must be within (0, 10m]")
	}

	// TwoFactor
	if c.TwoFactor.Issuer == "" {
		return errors.New("TwoFactor Issuer is required")
	}
	if c.TwoFactor.Skew > 2 {
		return errors.New("TwoFactor Skew must be <= 2")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}
