package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore/passkey"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
)

// BeginPasskeyLogin issues a single-use challenge for
// navigator.credentials.get. Issuance is rate limited per client address.
func (e *Engine) BeginPasskeyLogin(ctx context.Context) (passkey.Challenge, error) {
	if e == nil {
		return passkey.Challenge{}, ErrEngineNotReady
	}
	if err := e.take(ctx, e.limiters.passkeyChallenge, clientKey(ctx)); err != nil {
		return passkey.Challenge{}, err
	}

	c, err := e.challenges.Issue(ctx)
	if err != nil {
		return passkey.Challenge{}, e.backendErr(err)
	}
	return c, nil
}

// LoginWithPasskey verifies an assertion over a challenge from
// BeginPasskeyLogin. The resulting session is passkey verified, which also
// satisfies the two-factor step. Failures feed the same throttle as
// password logins.
func (e *Engine) LoginWithPasskey(ctx context.Context, req PasskeyLoginRequest) (LoginResult, error) {
	if e == nil {
		return LoginResult{}, ErrEngineNotReady
	}
	if req.Identifier == "" || req.ChallengeID == "" || req.Assertion.CredentialID == "" {
		return LoginResult{}, ErrInvalidRequest
	}

	user, found, err := e.findUser(ctx, req.Identifier)
	if err != nil {
		return LoginResult{}, err
	}
	if !found {
		// Burn the challenge so it cannot be retried against another name.
		if _, err := e.challenges.Consume(ctx, req.ChallengeID); err != nil && !errors.Is(err, passkey.ErrChallengeNotFound) {
			return LoginResult{}, e.backendErr(err)
		}
		e.passkeyLoginFailed(ctx, "", ErrInvalidCredential)
		return LoginResult{}, ErrInvalidCredential
	}

	if err := e.take(ctx, e.limiters.accountLogin, user.ID); err != nil {
		return LoginResult{}, err
	}
	throttleKey := user.ID + ":" + clientKey(ctx)
	wait, err := e.limiters.login.Attempt(ctx, throttleKey)
	if err != nil {
		return LoginResult{}, e.backendErr(err)
	}
	if wait > 0 {
		e.metrics.Inc(MetricLoginThrottled)
		e.emitAudit(ctx, EventLoginThrottled, false, user.ID, "", ErrRateLimited, map[string]string{"method": "passkey"})
		return LoginResult{}, rateLimited(wait)
	}

	fail := func(cause error) (LoginResult, error) {
		e.passkeyLoginFailed(ctx, user.ID, cause)
		return LoginResult{}, ErrInvalidCredential
	}

	challenge, err := e.challenges.Consume(ctx, req.ChallengeID)
	if errors.Is(err, passkey.ErrChallengeNotFound) {
		return fail(err)
	}
	if err != nil {
		return LoginResult{}, e.backendErr(err)
	}

	var (
		result    LoginResult
		rejection error
	)
	err = e.inTx(ctx, func(ctx context.Context, q store.Queries) error {
		stored, err := q.Passkey(ctx, user.ID, req.Assertion.CredentialID)
		if errors.Is(err, store.ErrNotFound) {
			rejection = err
			return nil
		}
		if err != nil {
			return err
		}

		count, err := e.passkeys.Verify(req.Assertion, passkey.Credential{
			PublicKey: stored.PublicKey,
			Algorithm: stored.Algorithm,
			SignCount: stored.SignCount,
		}, challenge)
		if err != nil {
			rejection = err
			return nil
		}

		if err := q.UpdatePasskeySignCount(ctx, stored.CredentialID, count); err != nil {
			return err
		}
		token, s, err := e.newSession(ctx, q, user.ID, session.Flags{PasskeyVerified: true})
		if err != nil {
			return err
		}
		result = LoginResult{Token: token, Session: s, Next: e.nextStep(s, user)}
		return nil
	})
	if err != nil {
		return LoginResult{}, err
	}
	if rejection != nil {
		return fail(rejection)
	}

	if err := e.limiters.login.Succeed(ctx, throttleKey); err != nil {
		e.logger.Warn().Err(err).Str("user_id", user.ID).Msg("login throttle reset failed")
	}
	e.resetLimiter(ctx, e.limiters.accountLogin, user.ID)

	e.metrics.Inc(MetricPasskeyLoginSuccess)
	e.emitAudit(ctx, EventLoginPasskey, true, user.ID, result.Session.ID, nil, nil)
	return result, nil
}

func (e *Engine) passkeyLoginFailed(ctx context.Context, userID string, cause error) {
	e.metrics.Inc(MetricPasskeyLoginFailure)
	e.emitAudit(ctx, EventLoginPasskey, false, userID, "", cause, nil)
	e.logger.Debug().Err(cause).Str("user_id", userID).Msg("passkey login rejected")
}

// RegisterPasskey binds a credential to the user of a fully trusted
// session. The key must be PKIX DER matching the declared algorithm.
// Attestation is not checked.
func (e *Engine) RegisterPasskey(ctx context.Context, token string, reg PasskeyRegistration) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if reg.CredentialID == "" {
		return ErrInvalidRequest
	}
	if _, err := passkey.ParsePublicKey(reg.PublicKey, reg.Algorithm); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var userID string
	err := e.sessionTx(ctx, token, func(ctx context.Context, q store.Queries, s session.Session, u store.User) error {
		if err := e.requireTrusted(s, u); err != nil {
			return err
		}
		err := q.InsertPasskey(ctx, store.Passkey{
			CredentialID: reg.CredentialID,
			UserID:       u.ID,
			PublicKey:    reg.PublicKey,
			Algorithm:    reg.Algorithm,
			CreatedAt:    e.now(),
		})
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: credential already registered", ErrInvalidRequest)
		}
		if err != nil {
			return err
		}

		// The session was already trusted; keep it so under RequirePasskey.
		s.Flags.PasskeyVerified = true
		userID = u.ID
		return q.UpdateSession(ctx, s)
	})
	if err != nil {
		return err
	}

	e.metrics.Inc(MetricPasskeyRegistered)
	e.emitAudit(ctx, EventPasskeyRegistered, true, userID, "", nil, map[string]string{"credential_id": reg.CredentialID})
	return nil
}
