// Package authcore is the authentication core of a web application:
// password and passkey login, email verification, password reset, TOTP
// two-factor and server-side sessions.
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build]. All state lives in two collaborators: a relational
// [store.Store] for accounts, secrets and sessions, and a Redis counter store
// for rate limiting, passkey challenges and TOTP replay protection.
//
// # Sessions and steps
//
// Every operation that signs a user in returns a [LoginResult] whose Next
// field names the step the session still has to complete. Email
// verification always comes first, then two-factor (skipped after a passkey
// login), then a passkey when [SessionConfig.RequirePasskey] is set and the
// user owns one. Callers treat a session as signed in only when Next is
// session.StepNone.
//
// # Failure model
//
// Errors match one of the sentinels in errors.go with [errors.Is]. A backend
// that cannot be reached yields [ErrUnavailable] and the request is refused.
// [PublicMessage] turns any error into text that is safe to show.
//
// # Client identity
//
// Per-address limits and audit events read the caller's address from the
// context. HTTP servers attach it with [WithClientIP] and [WithUserAgent].
package authcore
