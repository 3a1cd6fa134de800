package session

import "time"

// Session is a server-side login record. ID is the hash of the token held in
// the client's cookie; the raw token is never stored.
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	Flags     Flags
}

// Flags records which step-up factors this session has completed. Each flag
// is independent: a passkey login sets PasskeyVerified without any password
// step ever happening.
type Flags struct {
	TwoFactorVerified bool
	PasskeyVerified   bool
}

// Factors describes what the account behind a session requires.
type Factors struct {
	EmailVerified bool
	HasTwoFactor  bool
	HasPasskey    bool
}

// Policy holds deployment-wide requirements layered on top of Factors.
type Policy struct {
	// RequirePasskey forces users that own a passkey to use it even after a
	// password login.
	RequirePasskey bool
}

// Step names the next action a session must complete before it is trusted.
type Step uint8

const (
	StepNone Step = iota
	StepEmailVerification
	StepTwoFactor
	StepPasskey
)

func (s Step) String() string {
	switch s {
	case StepNone:
		return "none"
	case StepEmailVerification:
		return "email_verification"
	case StepTwoFactor:
		return "two_factor"
	case StepPasskey:
		return "passkey"
	default:
		return "unknown"
	}
}

// NextStep returns the first unmet requirement, or StepNone when the session
// is fully trusted. Email verification always comes first. A passkey login
// satisfies the two-factor requirement.
func NextStep(f Factors, flags Flags, p Policy) Step {
	if !f.EmailVerified {
		return StepEmailVerification
	}
	if f.HasTwoFactor && !flags.TwoFactorVerified && !flags.PasskeyVerified {
		return StepTwoFactor
	}
	if p.RequirePasskey && f.HasPasskey && !flags.PasskeyVerified {
		return StepPasskey
	}
	return StepNone
}

// FullyTrusted reports whether no further step is required.
func FullyTrusted(f Factors, flags Flags, p Policy) bool {
	return NextStep(f, flags, p) == StepNone
}
