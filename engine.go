package authcore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/mailer"
	"github.com/MrEthical07/authcore/passkey"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/ratelimit"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/twofactor"
)

// Engine runs every authentication flow. Build one with New().Build(); it is
// safe for concurrent use.
type Engine struct {
	config Config
	logger zerolog.Logger
	store  store.Store

	hasher    *password.Argon2
	dummyHash string
	policy    password.Policy

	lifetime session.Lifetime
	sessions session.Policy

	limiters   engineLimiters
	challenges *passkey.ChallengeStore
	passkeys   *passkey.Verifier
	totp       *twofactor.TOTP
	replay     *twofactor.ReplayGuard
	pending    *twofactor.PendingKeys

	notifier mailer.Notifier
	validate *validator.Validate
	metrics  *Metrics
	audit    *audit.Dispatcher
	now      func() time.Time
}

type engineLimiters struct {
	login             *ratelimit.Throttler
	accountLogin      ratelimit.Limiter
	signup            ratelimit.Limiter
	emailVerification ratelimit.Limiter
	emailResend       ratelimit.Limiter
	passwordReset     ratelimit.Limiter
	twoFactor         ratelimit.Limiter
	passkeyChallenge  ratelimit.Limiter
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// MetricsSnapshot returns current counter and histogram values. A nil
// engine reports an empty snapshot.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return (*Metrics)(nil).Snapshot()
	}
	return e.metrics.Snapshot()
}

// inTx runs fn in a store transaction. Errors from this package pass through
// untouched; anything else is a backend failure.
func (e *Engine) inTx(ctx context.Context, fn func(ctx context.Context, q store.Queries) error) error {
	err := e.store.InTx(ctx, fn)
	if err == nil {
		return nil
	}
	return e.backendErr(err)
}

func (e *Engine) backendErr(err error) error {
	if isEngineError(err) {
		return err
	}
	e.metrics.Inc(MetricBackendUnavailable)
	e.logger.Error().Err(err).Msg("auth backend failure")
	return unavailable(err)
}

func isEngineError(err error) bool {
	for _, target := range []error{
		ErrInvalidCredential, ErrRateLimited, ErrExpired, ErrNotFound,
		ErrWeakCredential, ErrUnavailable, ErrUnauthenticated, ErrAccountExists,
		ErrInvalidRequest, ErrStepRequired,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// take debits one token from limiter for key. A refused debit is
// ErrRateLimited; a backend failure refuses too.
func (e *Engine) take(ctx context.Context, limiter ratelimit.Limiter, key string) error {
	ok, err := limiter.Check(ctx, key, 1)
	if err != nil {
		return e.backendErr(err)
	}
	if !ok {
		e.metrics.Inc(MetricRateLimitHit)
		return rateLimited(0)
	}
	return nil
}

// resetLimiter is best effort: a leftover counter only makes the next
// attempt stricter.
func (e *Engine) resetLimiter(ctx context.Context, limiter ratelimit.Limiter, key string) {
	if err := limiter.Reset(ctx, key); err != nil {
		e.logger.Warn().Err(err).Msg("limiter reset failed")
	}
}

// lookupUser resolves a login identifier, which is an email address when it
// parses as one and a username otherwise.
func (e *Engine) lookupUser(ctx context.Context, q store.Queries, identifier string) (store.User, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if e.validate.Var(identifier, "email") == nil {
		return q.UserByEmail(ctx, identifier)
	}
	return q.UserByUsername(ctx, identifier)
}

// newSession inserts a session for user and returns the cookie token.
func (e *Engine) newSession(ctx context.Context, q store.Queries, userID string, flags session.Flags) (string, session.Session, error) {
	token, id, err := session.NewToken()
	if err != nil {
		return "", session.Session{}, err
	}
	s := session.Session{
		ID:        id,
		UserID:    userID,
		ExpiresAt: e.lifetime.ExpiresAt(e.now()),
		Flags:     flags,
	}
	if err := q.InsertSession(ctx, s); err != nil {
		return "", session.Session{}, err
	}
	e.metrics.Inc(MetricSessionCreated)
	return token, s, nil
}

// currentSession loads the session behind token and its user. Expired
// sessions are deleted and reported as ErrUnauthenticated.
func (e *Engine) currentSession(ctx context.Context, q store.Queries, token string) (session.Session, store.User, error) {
	if token == "" {
		return session.Session{}, store.User{}, ErrUnauthenticated
	}
	s, err := q.Session(ctx, session.IDFromToken(token))
	if errors.Is(err, store.ErrNotFound) {
		return session.Session{}, store.User{}, ErrUnauthenticated
	}
	if err != nil {
		return session.Session{}, store.User{}, err
	}
	if e.lifetime.Expired(s, e.now()) {
		if err := q.DeleteSession(ctx, s.ID); err != nil {
			return session.Session{}, store.User{}, err
		}
		e.metrics.Inc(MetricSessionInvalidated)
		return s, store.User{}, errSessionExpired
	}
	u, err := q.UserByID(ctx, s.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return session.Session{}, store.User{}, ErrUnauthenticated
	}
	if err != nil {
		return session.Session{}, store.User{}, err
	}
	return s, u, nil
}

// errSessionExpired lets a transaction commit the deletion of an expired
// session before ErrUnauthenticated is reported.
var errSessionExpired = errors.New("session expired")

// sessionTx runs fn with the session behind token. The expired-session
// cleanup commits even though the caller sees ErrUnauthenticated.
func (e *Engine) sessionTx(ctx context.Context, token string, fn func(ctx context.Context, q store.Queries, s session.Session, u store.User) error) error {
	expired := false
	err := e.inTx(ctx, func(ctx context.Context, q store.Queries) error {
		s, u, err := e.currentSession(ctx, q, token)
		if errors.Is(err, errSessionExpired) {
			expired = true
			return nil
		}
		if err != nil {
			return err
		}
		return fn(ctx, q, s, u)
	})
	if err != nil {
		return err
	}
	if expired {
		return ErrUnauthenticated
	}
	return nil
}

// requireTrusted fails with StepRequiredError unless s has completed every
// step u's account asks for.
func (e *Engine) requireTrusted(s session.Session, u store.User) error {
	if step := session.NextStep(u.Factors(), s.Flags, e.sessions); step != session.StepNone {
		return &StepRequiredError{Step: step}
	}
	return nil
}

func (e *Engine) nextStep(s session.Session, u store.User) session.Step {
	return session.NextStep(u.Factors(), s.Flags, e.sessions)
}
