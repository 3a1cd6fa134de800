// Package store defines the persistence contract the engine depends on.
//
// All reads and writes go through [Store.InTx] so that a secret can be
// consumed in the same transaction as the change it authorises.
// Implementations live in store/postgres and store/memory.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/session"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("record conflict")
	// ErrCredentialRequired is returned when a user would end up with
	// neither a password nor a passkey.
	ErrCredentialRequired = errors.New("user needs a password or a passkey")
)

// User is an account. PasswordHash is empty only for passkey-only accounts.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Email        *Email

	// Derived by lookups.
	TwoFactorEnabled bool
	PasskeyCount     int
}

// EmailVerified reports whether the user's address has been confirmed.
func (u User) EmailVerified() bool {
	return u.Email != nil && u.Email.Verified
}

// Factors projects the user onto the session factor requirements.
func (u User) Factors() session.Factors {
	return session.Factors{
		EmailVerified: u.EmailVerified(),
		HasTwoFactor:  u.TwoFactorEnabled,
		HasPasskey:    u.PasskeyCount > 0,
	}
}

type Email struct {
	Address  string
	UserID   string
	Verified bool
}

type EmailVerification struct {
	Email     string
	Code      string
	ExpiresAt time.Time
}

type PasswordReset struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
}

// Passkey binds a WebAuthn credential to a user.
type Passkey struct {
	CredentialID string
	UserID       string
	PublicKey    []byte
	Algorithm    int
	SignCount    uint32
	CreatedAt    time.Time
}

type TwoFactorCredential struct {
	UserID string
	Secret string
}

// Store runs fn inside a transaction. fn's error rolls everything back.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error
}

// Queries is the set of operations available inside a transaction.
type Queries interface {
	UserByID(ctx context.Context, id string) (User, error)
	UserByUsername(ctx context.Context, username string) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)
	InsertUser(ctx context.Context, u User) error
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	// DeleteUser removes the user together with every dependent row.
	DeleteUser(ctx context.Context, id string) error

	UpsertEmail(ctx context.Context, e Email) error
	SetEmailVerified(ctx context.Context, userID string, verified bool) error

	// InsertEmailVerification replaces any outstanding code for the same
	// address and leaves other addresses alone.
	InsertEmailVerification(ctx context.Context, v EmailVerification) error
	EmailVerification(ctx context.Context, email string) (EmailVerification, error)
	DeleteEmailVerification(ctx context.Context, email string) error

	// InsertPasswordReset replaces every outstanding reset of the same user.
	InsertPasswordReset(ctx context.Context, r PasswordReset) error
	PasswordReset(ctx context.Context, tokenHash string) (PasswordReset, error)
	// DeletePasswordReset returns ErrNotFound when the token was already
	// consumed, so two concurrent resets cannot both succeed.
	DeletePasswordReset(ctx context.Context, tokenHash string) error
	DeleteUserPasswordResets(ctx context.Context, userID string) error

	InsertSession(ctx context.Context, s session.Session) error
	Session(ctx context.Context, id string) (session.Session, error)
	UpdateSession(ctx context.Context, s session.Session) error
	DeleteSession(ctx context.Context, id string) error
	DeleteUserSessions(ctx context.Context, userID string) (int64, error)

	InsertPasskey(ctx context.Context, p Passkey) error
	Passkey(ctx context.Context, userID, credentialID string) (Passkey, error)
	UpdatePasskeySignCount(ctx context.Context, credentialID string, count uint32) error

	TwoFactorCredential(ctx context.Context, userID string) (TwoFactorCredential, error)
	UpsertTwoFactorCredential(ctx context.Context, c TwoFactorCredential) error
}
