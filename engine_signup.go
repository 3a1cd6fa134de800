package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/MrEthical07/authcore/internal/secret"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
)

type signupInput struct {
	Username string `validate:"required,min=3,max=32,alphanum"`
	Email    string `validate:"required,email,max=254"`
}

// Signup creates an account with an unverified email, mails a verification
// code and signs the new user in. The session's next step is always email
// verification.
func (e *Engine) Signup(ctx context.Context, req SignupRequest) (LoginResult, error) {
	if e == nil {
		return LoginResult{}, ErrEngineNotReady
	}

	in := signupInput{
		Username: strings.ToLower(strings.TrimSpace(req.Username)),
		Email:    strings.ToLower(strings.TrimSpace(req.Email)),
	}
	if err := e.validate.Struct(in); err != nil {
		return LoginResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if err := e.take(ctx, e.limiters.signup, clientKey(ctx)); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metrics.Inc(MetricSignupRateLimited)
			e.emitAudit(ctx, EventRateLimited, false, "", "", err, map[string]string{"flow": "signup"})
		}
		return LoginResult{}, err
	}

	if err := e.checkPassword(ctx, req.Password); err != nil {
		return LoginResult{}, err
	}
	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return LoginResult{}, e.backendErr(err)
	}
	code, err := secret.NewVerificationCode(e.config.Secrets.VerificationCodeLength)
	if err != nil {
		return LoginResult{}, e.backendErr(err)
	}

	userID := uuid.NewString()
	var result LoginResult
	err = e.inTx(ctx, func(ctx context.Context, q store.Queries) error {
		if err := q.InsertUser(ctx, store.User{ID: userID, Username: in.Username, PasswordHash: hash}); err != nil {
			return signupConflict(err)
		}
		if err := q.UpsertEmail(ctx, store.Email{Address: in.Email, UserID: userID}); err != nil {
			return signupConflict(err)
		}
		if err := q.InsertEmailVerification(ctx, store.EmailVerification{
			Email:     in.Email,
			Code:      code,
			ExpiresAt: e.now().Add(e.config.Secrets.VerificationTTL),
		}); err != nil {
			return err
		}

		token, s, err := e.newSession(ctx, q, userID, session.Flags{})
		if err != nil {
			return err
		}
		result = LoginResult{Token: token, Session: s, Next: session.StepEmailVerification}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			e.metrics.Inc(MetricSignupDuplicate)
		}
		e.emitAudit(ctx, EventSignup, false, "", "", err, nil)
		return LoginResult{}, err
	}

	// The account exists either way; a lost mail is recovered with a resend.
	if err := e.notifier.SendVerificationCode(ctx, in.Email, code); err != nil {
		e.logger.Error().Err(err).Str("user_id", userID).Msg("signup: verification mail failed")
	}

	e.metrics.Inc(MetricSignupSuccess)
	e.emitAudit(ctx, EventSignup, true, userID, result.Session.ID, nil, nil)
	e.logger.Debug().Str("user_id", userID).Msg("signup complete")
	return result, nil
}

func signupConflict(err error) error {
	if errors.Is(err, store.ErrConflict) {
		return ErrAccountExists
	}
	return err
}

// checkPassword applies the strength policy. A corpus that cannot be
// reached refuses the password.
func (e *Engine) checkPassword(ctx context.Context, pw string) error {
	err := e.policy.Check(ctx, pw)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, password.ErrWeakPassword):
		return fmt.Errorf("%w: %v", ErrWeakCredential, err)
	default:
		return e.backendErr(err)
	}
}
