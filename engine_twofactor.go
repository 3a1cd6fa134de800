package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/twofactor"
)

// VerifyTwoFactor completes the two-factor step of the session behind token
// with a TOTP code and returns the next required step. Email verification
// must come first. A code is accepted once per time step.
func (e *Engine) VerifyTwoFactor(ctx context.Context, token, code string) (session.Step, error) {
	if e == nil {
		return session.StepNone, ErrEngineNotReady
	}
	if code == "" {
		return session.StepNone, ErrInvalidRequest
	}

	var (
		user      store.User
		secretKey string
	)
	err := e.sessionTx(ctx, token, func(ctx context.Context, q store.Queries, s session.Session, u store.User) error {
		if !u.EmailVerified() {
			return &StepRequiredError{Step: session.StepEmailVerification}
		}
		if !u.TwoFactorEnabled {
			return fmt.Errorf("%w: two-factor is not enabled", ErrInvalidRequest)
		}
		cred, err := q.TwoFactorCredential(ctx, u.ID)
		if err != nil {
			return err
		}
		user, secretKey = u, cred.Secret
		return nil
	})
	if err != nil {
		return session.StepNone, err
	}

	if err := e.take(ctx, e.limiters.twoFactor, user.ID); err != nil {
		e.emitAudit(ctx, EventRateLimited, false, user.ID, "", err, map[string]string{"flow": "two_factor"})
		return session.StepNone, err
	}
	if err := e.checkTOTP(ctx, user.ID, secretKey, code); err != nil {
		e.metrics.Inc(MetricTwoFactorFailure)
		e.emitAudit(ctx, EventTwoFactorVerified, false, user.ID, "", err, nil)
		return session.StepNone, err
	}

	var next session.Step
	err = e.sessionTx(ctx, token, func(ctx context.Context, q store.Queries, s session.Session, u store.User) error {
		s.Flags.TwoFactorVerified = true
		if err := q.UpdateSession(ctx, s); err != nil {
			return err
		}
		next = e.nextStep(s, u)
		return nil
	})
	if err != nil {
		return session.StepNone, err
	}

	e.resetLimiter(ctx, e.limiters.twoFactor, user.ID)
	e.metrics.Inc(MetricTwoFactorSuccess)
	e.emitAudit(ctx, EventTwoFactorVerified, true, user.ID, session.IDFromToken(token), nil, nil)
	return next, nil
}

// NewTwoFactorKey generates an authenticator key for the user of a fully
// trusted session. The secret is held against the session until
// EnrollTwoFactor confirms it; asking again replaces it.
func (e *Engine) NewTwoFactorKey(ctx context.Context, token string) (TwoFactorKey, error) {
	if e == nil {
		return TwoFactorKey{}, ErrEngineNotReady
	}

	var account string
	err := e.sessionTx(ctx, token, func(_ context.Context, _ store.Queries, s session.Session, u store.User) error {
		if err := e.requireTrusted(s, u); err != nil {
			return err
		}
		if u.TwoFactorEnabled {
			return fmt.Errorf("%w: two-factor already enabled", ErrInvalidRequest)
		}
		account = u.Username
		return nil
	})
	if err != nil {
		return TwoFactorKey{}, err
	}

	key, err := e.totp.Generate(account)
	if err != nil {
		return TwoFactorKey{}, e.backendErr(err)
	}
	if err := e.pending.Put(ctx, session.IDFromToken(token), key.Secret); err != nil {
		return TwoFactorKey{}, e.backendErr(err)
	}
	return TwoFactorKey{Secret: key.Secret, URL: key.URL}, nil
}

// EnrollTwoFactor stores the key NewTwoFactorKey issued to this session once
// code proves the authenticator holds it. The current session counts as
// two-factor verified afterwards.
func (e *Engine) EnrollTwoFactor(ctx context.Context, token, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if code == "" {
		return ErrInvalidRequest
	}

	var userID string
	err := e.sessionTx(ctx, token, func(_ context.Context, _ store.Queries, s session.Session, u store.User) error {
		if err := e.requireTrusted(s, u); err != nil {
			return err
		}
		if u.TwoFactorEnabled {
			return fmt.Errorf("%w: two-factor already enabled", ErrInvalidRequest)
		}
		userID = u.ID
		return nil
	})
	if err != nil {
		return err
	}

	sessionID := session.IDFromToken(token)
	secretKey, err := e.pending.Get(ctx, sessionID)
	if errors.Is(err, twofactor.ErrNoPendingKey) {
		return fmt.Errorf("%w: no key was issued to this session or it expired", ErrInvalidRequest)
	}
	if err != nil {
		return e.backendErr(err)
	}

	if err := e.take(ctx, e.limiters.twoFactor, userID); err != nil {
		return err
	}
	if err := e.checkTOTP(ctx, userID, secretKey, code); err != nil {
		e.metrics.Inc(MetricTwoFactorFailure)
		return err
	}

	err = e.sessionTx(ctx, token, func(ctx context.Context, q store.Queries, s session.Session, u store.User) error {
		if err := q.UpsertTwoFactorCredential(ctx, store.TwoFactorCredential{UserID: u.ID, Secret: secretKey}); err != nil {
			return err
		}
		s.Flags.TwoFactorVerified = true
		return q.UpdateSession(ctx, s)
	})
	if err != nil {
		return err
	}

	if err := e.pending.Drop(ctx, sessionID); err != nil {
		e.logger.Warn().Err(err).Str("user_id", userID).Msg("pending totp key not dropped")
	}
	e.resetLimiter(ctx, e.limiters.twoFactor, userID)
	e.metrics.Inc(MetricTwoFactorEnrolled)
	e.emitAudit(ctx, EventTwoFactorEnrolled, true, userID, sessionID, nil, nil)
	return nil
}

// checkTOTP verifies code and spends its time step.
func (e *Engine) checkTOTP(ctx context.Context, userID, secretKey, code string) error {
	ok, counter, err := e.totp.Verify(secretKey, code, e.now())
	if errors.Is(err, twofactor.ErrInvalidSecret) {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err != nil {
		return e.backendErr(err)
	}
	if !ok {
		return ErrInvalidCredential
	}

	fresh, err := e.replay.Claim(ctx, userID, counter)
	if err != nil {
		return e.backendErr(err)
	}
	if !fresh {
		return ErrInvalidCredential
	}
	return nil
}
