package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/session"
)

var (
	// ErrInvalidCredential covers a wrong password, passkey, code or TOTP.
	// It never says whether the account exists.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrRateLimited means a bucket or the login throttler refused the
	// attempt. See RateLimitError for the wait hint.
	ErrRateLimited = errors.New("rate limited")
	// ErrExpired is returned for a secret whose expiry has passed, even when
	// the secret itself matched.
	ErrExpired = errors.New("expired")
	// ErrNotFound is returned for a reset token or code that matches nothing.
	ErrNotFound = errors.New("not found")
	// ErrWeakCredential is returned when a new password fails the policy.
	ErrWeakCredential = errors.New("weak credential")
	// ErrUnavailable wraps every backend failure. Requests are refused, never
	// allowed, when a store cannot be reached.
	ErrUnavailable = errors.New("auth backend unavailable")
	// ErrUnauthenticated means the session token is missing, unknown or
	// expired.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrAccountExists is returned by Signup for a taken username or email.
	ErrAccountExists = errors.New("account already exists")
	// ErrInvalidRequest is returned for malformed input or an operation that
	// does not apply to the account's state.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrStepRequired means the session must complete another step first.
	// See StepRequiredError.
	ErrStepRequired = errors.New("verification step required")
	// ErrEngineNotReady is returned when an Engine method is called on nil.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// RateLimitError carries the time to wait before retrying, when known.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
	}
	return ErrRateLimited.Error()
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// StepRequiredError names the step the session has to complete next.
type StepRequiredError struct {
	Step session.Step
}

func (e *StepRequiredError) Error() string {
	return "verification step required: " + e.Step.String()
}

func (e *StepRequiredError) Unwrap() error { return ErrStepRequired }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func rateLimited(retryAfter time.Duration) error {
	return &RateLimitError{RetryAfter: retryAfter}
}

// PublicMessage returns text safe to show the user for err. Missing and
// expired secrets share one message so a caller cannot tell which it was.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrExpired):
		return "This link or code has expired."
	case errors.Is(err, ErrInvalidCredential):
		return "Incorrect credentials."
	case errors.Is(err, ErrRateLimited):
		return "Too many attempts. Try again later."
	case errors.Is(err, ErrWeakCredential):
		return "Password is too weak or was found in compromised databases."
	case errors.Is(err, ErrAccountExists):
		return "Username or email is already taken."
	case errors.Is(err, ErrUnauthenticated):
		return "Please sign in."
	case errors.Is(err, ErrStepRequired):
		return "Please complete verification."
	case errors.Is(err, ErrInvalidRequest):
		return "Invalid request."
	default:
		return "Service unavailable. Try again later."
	}
}
