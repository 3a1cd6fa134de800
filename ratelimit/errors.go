package ratelimit

import "errors"

var (
	// ErrUnavailable wraps counter store failures.
	ErrUnavailable = errors.New("rate limit store unavailable")
	// ErrInvalidConfig is returned by constructors for unusable settings.
	ErrInvalidConfig = errors.New("invalid rate limit config")

	errUnexpectedReply = errors.New("unexpected script reply")
)
