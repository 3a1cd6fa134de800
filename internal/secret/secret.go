// Package secret generates and hashes the single-use secrets handed to users:
// password reset tokens, email verification codes and session tokens.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
)

const (
	// ResetTokenEntropy is the number of random bytes behind a reset token.
	ResetTokenEntropy = 25
	// SessionTokenEntropy is the number of random bytes behind a session token.
	SessionTokenEntropy = 20
	// DefaultCodeLength is the length of an email verification code.
	DefaultCodeLength = 8

	// codeAlphabet drops 0/O and 1/I so codes survive being read aloud.
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

var tokenEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// ErrInvalidLength is returned for code lengths outside [6, 16].
var ErrInvalidLength = errors.New("invalid secret length")

// NewResetToken returns a URL-safe token carrying ResetTokenEntropy bytes of
// randomness (40 characters).
func NewResetToken() (string, error) {
	return randomToken(ResetTokenEntropy)
}

// NewSessionToken returns the opaque value placed in the session cookie.
func NewSessionToken() (string, error) {
	return randomToken(SessionTokenEntropy)
}

// Hash returns the lower-case hex sha256 of token. Reset tokens and session
// tokens are only ever stored in this form.
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewVerificationCode returns an upper-case alphanumeric code of length n.
func NewVerificationCode(n int) (string, error) {
	if n < 6 || n > 16 {
		return "", ErrInvalidLength
	}

	var b strings.Builder
	b.Grow(n)

	limit := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode upper-cases user input and strips surrounding space.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func randomToken(size int) (string, error) {
	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return tokenEncoding.EncodeToString(raw), nil
}
