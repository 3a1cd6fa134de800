// Package session models login sessions and the factor state machine that
// decides what a session still has to prove.
//
// # State
//
// A [Session] carries independent [Flags] rather than a single trust level,
// because a passkey login and a two-factor code are unrelated proofs.
// [NextStep] combines the flags with the account's [Factors] and returns the
// next required [Step].
//
// # Tokens
//
// The client receives an opaque token from [NewToken]; only
// [IDFromToken] of that token is persisted, so a leaked session table does
// not yield usable cookies.
//
// # What this package must NOT do
//
//   - Talk to storage. Persistence goes through the store package.
//   - Import the root authcore package.
package session
