package authcore

import (
	"context"
	"crypto/subtle"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/MrEthical07/authcore/internal/secret"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
)

// pendingEmail loads the session behind token and the address still
// waiting for verification.
func (e *Engine) pendingEmail(ctx context.Context, token string) (session.Session, store.User, error) {
	var (
		s session.Session
		u store.User
	)
	err := e.sessionTx(ctx, token, func(_ context.Context, _ store.Queries, cur session.Session, user store.User) error {
		if user.Email == nil || user.Email.Verified {
			return ErrInvalidRequest
		}
		s, u = cur, user
		return nil
	})
	return s, u, err
}

// ResendVerificationEmail replaces the outstanding code for the session's
// address and mails the new one. The previous code stops working.
func (e *Engine) ResendVerificationEmail(ctx context.Context, token string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	_, u, err := e.pendingEmail(ctx, token)
	if err != nil {
		return err
	}
	if err := e.take(ctx, e.limiters.emailResend, u.ID); err != nil {
		e.emitAudit(ctx, EventRateLimited, false, u.ID, "", err, map[string]string{"flow": "email_resend"})
		return err
	}

	code, err := secret.NewVerificationCode(e.config.Secrets.VerificationCodeLength)
	if err != nil {
		return e.backendErr(err)
	}
	err = e.inTx(ctx, func(ctx context.Context, q store.Queries) error {
		return q.InsertEmailVerification(ctx, store.EmailVerification{
			Email:     u.Email.Address,
			Code:      code,
			ExpiresAt: e.now().Add(e.config.Secrets.VerificationTTL),
		})
	})
	if err != nil {
		return err
	}

	if err := e.notifier.SendVerificationCode(ctx, u.Email.Address, code); err != nil {
		return e.backendErr(err)
	}

	e.metrics.Inc(MetricEmailVerificationResent)
	e.emitAudit(ctx, EventVerificationResent, true, u.ID, "", nil, nil)
	return nil
}

// VerifyEmail checks code against the session's pending address. On success
// the address is marked verified and every session of the user is replaced
// by a single new one, which is returned.
//
// A wrong code is ErrInvalidCredential, a missing one ErrNotFound and a
// matching but stale one ErrExpired. Each attempt costs a token from the
// per-user bucket.
func (e *Engine) VerifyEmail(ctx context.Context, token, code string) (LoginResult, error) {
	if e == nil {
		return LoginResult{}, ErrEngineNotReady
	}
	code = secret.NormalizeCode(code)
	if code == "" {
		return LoginResult{}, ErrInvalidRequest
	}

	s, u, err := e.pendingEmail(ctx, token)
	if err != nil {
		return LoginResult{}, err
	}
	if err := e.take(ctx, e.limiters.emailVerification, u.ID); err != nil {
		e.emitAudit(ctx, EventRateLimited, false, u.ID, s.ID, err, map[string]string{"flow": "email_verification"})
		return LoginResult{}, err
	}

	var result LoginResult
	err = e.inTx(ctx, func(ctx context.Context, q store.Queries) error {
		v, err := q.EmailVerification(ctx, u.Email.Address)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if subtle.ConstantTimeCompare([]byte(v.Code), []byte(code)) != 1 {
			return ErrInvalidCredential
		}
		if e.now().After(v.ExpiresAt) {
			return ErrExpired
		}

		if err := q.DeleteEmailVerification(ctx, v.Email); err != nil {
			return err
		}
		if err := q.SetEmailVerified(ctx, u.ID, true); err != nil {
			return err
		}
		n, err := q.DeleteUserSessions(ctx, u.ID)
		if err != nil {
			return err
		}
		for i := int64(0); i < n; i++ {
			e.metrics.Inc(MetricSessionInvalidated)
		}

		token, fresh, err := e.newSession(ctx, q, u.ID, session.Flags{PasskeyVerified: s.Flags.PasskeyVerified})
		if err != nil {
			return err
		}
		verified := u
		verified.Email = &store.Email{Address: u.Email.Address, UserID: u.ID, Verified: true}
		result = LoginResult{Token: token, Session: fresh, Next: e.nextStep(fresh, verified)}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrUnavailable) {
			e.metrics.Inc(MetricEmailVerificationFailure)
		}
		e.emitAudit(ctx, EventEmailVerified, false, u.ID, s.ID, err, nil)
		return LoginResult{}, err
	}

	var g errgroup.Group
	g.Go(func() error { return e.limiters.emailVerification.Reset(ctx, u.ID) })
	g.Go(func() error { return e.limiters.emailResend.Reset(ctx, u.ID) })
	if err := g.Wait(); err != nil {
		e.logger.Warn().Err(err).Str("user_id", u.ID).Msg("email bucket reset failed")
	}

	e.metrics.Inc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, EventEmailVerified, true, u.ID, result.Session.ID, nil, nil)
	return result, nil
}
