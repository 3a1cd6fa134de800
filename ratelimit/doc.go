// Package ratelimit provides Redis-backed limiters used in front of every
// credential check.
//
// # Limiters
//
//   - [ConstantRefillBucket]: refills one token per interval, capped at max.
//   - [FixedRefillBucket]: refills to max once the window interval has passed.
//   - [Throttler]: escalating delay after repeated failures, keyed by
//     user id and client address.
//
// Both buckets satisfy [Limiter]. Every check-and-mutate runs as a single Lua
// script so concurrent callers on one key cannot interleave. Key prefixes:
//   - rl:<name>: token buckets
//   - th:<name>: throttler
//
// Redis failures surface as [ErrUnavailable]. Callers must treat them as a
// denial.
package ratelimit
