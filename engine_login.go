package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
)

// Login authenticates with a password. Unknown accounts and wrong passwords
// fail identically with ErrInvalidCredential after the same hashing work.
// Repeated failures from one address against one account are throttled with
// escalating delays; the account as a whole is also capped per minute.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	if e == nil {
		return LoginResult{}, ErrEngineNotReady
	}
	start := time.Now()
	defer func() { e.metrics.Observe(MetricLoginLatency, time.Since(start)) }()

	if req.Identifier == "" || req.Password == "" {
		return LoginResult{}, ErrInvalidRequest
	}

	user, found, err := e.findUser(ctx, req.Identifier)
	if err != nil {
		return LoginResult{}, err
	}
	if !found {
		_, _ = e.hasher.Verify(req.Password, e.dummyHash)
		e.loginFailed(ctx, "", ErrInvalidCredential)
		return LoginResult{}, ErrInvalidCredential
	}

	if err := e.take(ctx, e.limiters.accountLogin, user.ID); err != nil {
		e.loginFailed(ctx, user.ID, err)
		return LoginResult{}, err
	}

	throttleKey := user.ID + ":" + clientKey(ctx)
	wait, err := e.limiters.login.Attempt(ctx, throttleKey)
	if err != nil {
		return LoginResult{}, e.backendErr(err)
	}
	if wait > 0 {
		e.metrics.Inc(MetricLoginThrottled)
		e.emitAudit(ctx, EventLoginThrottled, false, user.ID, "", ErrRateLimited, nil)
		e.logger.Warn().Str("user_id", user.ID).Dur("retry_after", wait).Msg("login throttled")
		return LoginResult{}, rateLimited(wait)
	}

	ok, err := e.verifyPassword(req.Password, user.PasswordHash)
	if err != nil {
		return LoginResult{}, e.backendErr(err)
	}
	if !ok {
		e.loginFailed(ctx, user.ID, ErrInvalidCredential)
		return LoginResult{}, ErrInvalidCredential
	}

	if err := e.limiters.login.Succeed(ctx, throttleKey); err != nil {
		e.logger.Warn().Err(err).Str("user_id", user.ID).Msg("login throttle reset failed")
	}
	e.resetLimiter(ctx, e.limiters.accountLogin, user.ID)

	rehash := e.upgradeHash(req.Password, user.PasswordHash)

	var result LoginResult
	err = e.inTx(ctx, func(ctx context.Context, q store.Queries) error {
		if rehash != "" {
			if err := q.UpdatePasswordHash(ctx, user.ID, rehash); err != nil {
				return err
			}
		}
		token, s, err := e.newSession(ctx, q, user.ID, session.Flags{})
		if err != nil {
			return err
		}
		result = LoginResult{Token: token, Session: s, Next: e.nextStep(s, user)}
		return nil
	})
	if err != nil {
		return LoginResult{}, err
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, EventLogin, true, user.ID, result.Session.ID, nil, map[string]string{"next": result.Next.String()})
	return result, nil
}

func (e *Engine) loginFailed(ctx context.Context, userID string, err error) {
	if errors.Is(err, ErrRateLimited) {
		e.emitAudit(ctx, EventRateLimited, false, userID, "", err, map[string]string{"flow": "login"})
		return
	}
	e.metrics.Inc(MetricLoginFailure)
	e.emitAudit(ctx, EventLogin, false, userID, "", err, nil)
}

// findUser resolves identifier in its own transaction. A miss is not an
// error.
func (e *Engine) findUser(ctx context.Context, identifier string) (store.User, bool, error) {
	var user store.User
	found := true
	err := e.inTx(ctx, func(ctx context.Context, q store.Queries) error {
		u, err := e.lookupUser(ctx, q, identifier)
		if errors.Is(err, store.ErrNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return store.User{}, false, err
	}
	return user, found, nil
}

// verifyPassword checks pw against hash. Passkey-only accounts have no hash
// and are checked against the dummy so the timing matches. A password over
// the hasher's length limit is a wrong password, as it is for unknown
// accounts.
func (e *Engine) verifyPassword(pw, hash string) (bool, error) {
	if hash == "" {
		_, _ = e.hasher.Verify(pw, e.dummyHash)
		return false, nil
	}
	ok, err := e.hasher.Verify(pw, hash)
	if errors.Is(err, password.ErrPasswordTooLong) {
		return false, nil
	}
	return ok, err
}

// upgradeHash returns a fresh hash when the stored one uses older
// parameters, or "" when no upgrade is due.
func (e *Engine) upgradeHash(pw, hash string) string {
	upgrade, err := e.hasher.NeedsUpgrade(hash)
	if err != nil || !upgrade {
		return ""
	}
	fresh, err := e.hasher.Hash(pw)
	if err != nil {
		e.logger.Warn().Err(err).Msg("password rehash failed")
		return ""
	}
	return fresh
}
