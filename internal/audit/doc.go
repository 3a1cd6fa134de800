// Package audit dispatches security events asynchronously.
//
// # Components
//
//   - [Event]: one action with user, session, client address and outcome.
//   - [Sink]: event consumer (channel, zerolog, no-op).
//   - [Dispatcher]: buffered relay with drop-if-full or block-if-full.
//
// This package owns buffering and delivery. Which events to emit is the
// engine's decision.
package audit
