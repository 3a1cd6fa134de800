package authcore

import (
	"github.com/MrEthical07/authcore/passkey"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
)

// SignupRequest creates an account with a password and an unverified email.
type SignupRequest struct {
	Username string
	Email    string
	Password string
}

// LoginRequest authenticates with a username or email and a password.
type LoginRequest struct {
	Identifier string
	Password   string
}

// PasskeyLoginRequest authenticates with an assertion over a challenge
// obtained from BeginPasskeyLogin.
type PasskeyLoginRequest struct {
	Identifier  string
	ChallengeID string
	Assertion   passkey.Assertion
}

// PasskeyRegistration binds a new credential to the signed-in user.
type PasskeyRegistration struct {
	CredentialID string
	// PublicKey is PKIX DER.
	PublicKey []byte
	Algorithm int
}

// LoginResult is returned by every operation that issues a session. Token
// goes into the cookie; it is never stored.
type LoginResult struct {
	Token   string
	Session session.Session
	Next    session.Step
}

// SessionInfo describes a validated session.
type SessionInfo struct {
	Session session.Session
	User    store.User
	Next    session.Step
	Renewed bool
}

// TwoFactorKey is shown to the user while enrolling an authenticator app.
type TwoFactorKey struct {
	Secret string
	URL    string
}
