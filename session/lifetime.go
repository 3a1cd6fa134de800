package session

import (
	"errors"
	"time"

	"github.com/MrEthical07/authcore/internal/secret"
)

const (
	DefaultDuration    = 30 * 24 * time.Hour
	DefaultRenewWithin = 15 * 24 * time.Hour
)

// ErrInvalidLifetime is returned by Lifetime.Validate.
var ErrInvalidLifetime = errors.New("invalid session lifetime")

// Lifetime controls expiry and sliding renewal.
type Lifetime struct {
	Duration time.Duration
	// RenewWithin pushes expiry out again when a session is used with less
	// than this much time left. Zero disables renewal.
	RenewWithin time.Duration
}

// DefaultLifetime is 30 days, renewed once less than 15 days remain.
func DefaultLifetime() Lifetime {
	return Lifetime{Duration: DefaultDuration, RenewWithin: DefaultRenewWithin}
}

func (l Lifetime) Validate() error {
	if l.Duration <= 0 || l.RenewWithin < 0 || l.RenewWithin >= l.Duration {
		return ErrInvalidLifetime
	}
	return nil
}

// ExpiresAt returns the expiry of a session created or renewed at now.
func (l Lifetime) ExpiresAt(now time.Time) time.Time {
	return now.Add(l.Duration)
}

// Expired reports whether s is past its expiry.
func (l Lifetime) Expired(s Session, now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// NeedsRenewal reports whether s is close enough to expiry to be extended.
func (l Lifetime) NeedsRenewal(s Session, now time.Time) bool {
	if l.RenewWithin == 0 || l.Expired(s, now) {
		return false
	}
	return s.ExpiresAt.Sub(now) < l.RenewWithin
}

// NewToken returns a fresh cookie token and the session ID derived from it.
func NewToken() (token, id string, err error) {
	token, err = secret.NewSessionToken()
	if err != nil {
		return "", "", err
	}
	return token, IDFromToken(token), nil
}

// IDFromToken maps a cookie token to the stored session ID.
func IDFromToken(token string) string {
	return secret.Hash(token)
}
