package twofactor

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
)

const secretSize = 20

var (
	ErrInvalidSecret = errors.New("invalid totp secret")
	ErrUnavailable   = errors.New("totp replay store unavailable")
)

// Config holds TOTP parameters shared by enrollment and verification.
type Config struct {
	Issuer    string
	Period    uint
	Skew      uint
	Digits    otp.Digits
	Algorithm otp.Algorithm
}

// DefaultConfig returns RFC 6238 defaults: 30s period, one step of skew,
// six digits, SHA1.
func DefaultConfig(issuer string) Config {
	return Config{
		Issuer:    issuer,
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

func (c Config) Validate() error {
	if c.Issuer == "" {
		return errors.New("totp issuer is required")
	}
	if c.Period == 0 {
		return errors.New("totp period must be > 0")
	}
	if c.Skew > 2 {
		return errors.New("totp skew must be <= 2")
	}
	if c.Digits != otp.DigitsSix && c.Digits != otp.DigitsEight {
		return errors.New("totp digits must be 6 or 8")
	}
	return nil
}

// Key is a freshly generated TOTP key.
type Key struct {
	Secret string
	URL    string
}

type TOTP struct {
	config Config
}

func New(cfg Config) (*TOTP, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &TOTP{config: cfg}, nil
}

// Generate creates a key for account.
func (t *TOTP) Generate(account string) (Key, error) {
	k, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.config.Issuer,
		AccountName: account,
		Period:      t.config.Period,
		SecretSize:  secretSize,
		Digits:      t.config.Digits,
		Algorithm:   t.config.Algorithm,
	})
	if err != nil {
		return Key{}, err
	}
	return Key{Secret: k.Secret(), URL: k.URL()}, nil
}

// Code returns the code for secret at the given time.
func (t *TOTP) Code(secret string, at time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(secret, at, t.opts())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return code, nil
}

// Verify checks code against secret within the configured skew and returns
// the time step that matched. Malformed codes are a plain mismatch.
func (t *TOTP) Verify(secret, code string, now time.Time) (bool, int64, error) {
	code = strings.TrimSpace(code)
	if len(code) != t.config.Digits.Length() {
		return false, 0, nil
	}
	if _, err := strconv.ParseUint(code, 10, 64); err != nil {
		return false, 0, nil
	}

	period := int64(t.config.Period)
	base := now.Unix() / period
	skew := int64(t.config.Skew)
	for step := -skew; step <= skew; step++ {
		counter := base + step
		if counter < 0 {
			continue
		}
		expected, err := t.Code(secret, time.Unix(counter*period, 0))
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return true, counter, nil
		}
	}
	return false, 0, nil
}

func (t *TOTP) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    t.config.Period,
		Skew:      t.config.Skew,
		Digits:    t.config.Digits,
		Algorithm: t.config.Algorithm,
	}
}

// ReplayGuard remembers which time steps a user has already spent so a
// code cannot be used twice inside its validity window.
type ReplayGuard struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewReplayGuard(client redis.UniversalClient, cfg Config) *ReplayGuard {
	window := time.Duration(cfg.Period*(2*cfg.Skew+1)) * time.Second
	return &ReplayGuard{redis: client, prefix: "totp", ttl: window}
}

// Claim marks counter as used for userID. It reports false when the step
// was already claimed.
func (g *ReplayGuard) Claim(ctx context.Context, userID string, counter int64) (bool, error) {
	key := g.prefix + ":" + userID + ":" + strconv.FormatInt(counter, 10)
	ok, err := g.redis.SetNX(ctx, key, 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ok, nil
}
