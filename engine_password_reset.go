package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MrEthical07/authcore/internal/secret"
	"github.com/MrEthical07/authcore/store"
)

// RequestPasswordReset mails a reset link to email when it belongs to an
// account. It returns nil for unknown addresses after the same token work,
// so the response does not reveal whether the account exists. A new token
// replaces any outstanding one.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if err := e.validate.Var(email, "required,email"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if err := e.take(ctx, e.limiters.passwordReset, clientKey(ctx)); err != nil {
		e.emitAudit(ctx, EventRateLimited, false, "", "", err, map[string]string{"flow": "password_reset"})
		return err
	}

	token, err := secret.NewResetToken()
	if err != nil {
		return e.backendErr(err)
	}
	tokenHash := secret.Hash(token)

	var userID string
	err = e.inTx(ctx, func(ctx context.Context, q store.Queries) error {
		u, err := q.UserByEmail(ctx, email)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		userID = u.ID
		return q.InsertPasswordReset(ctx, store.PasswordReset{
			TokenHash: tokenHash,
			UserID:    u.ID,
			ExpiresAt: e.now().Add(e.config.Secrets.ResetTTL),
		})
	})
	if err != nil {
		return err
	}

	e.metrics.Inc(MetricPasswordResetRequest)
	if userID == "" {
		return nil
	}

	if err := e.notifier.SendPasswordReset(ctx, email, token); err != nil {
		e.logger.Error().Err(err).Str("user_id", userID).Msg("password reset: mail failed")
	}
	e.emitAudit(ctx, EventPasswordResetIssued, true, userID, "", nil, nil)
	return nil
}

// ValidatePasswordResetToken reports whether token can still be used. Expired
// tokens are deleted. Missing tokens yield ErrNotFound and stale ones
// ErrExpired; PublicMessage renders both the same.
func (e *Engine) ValidatePasswordResetToken(ctx context.Context, token string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if token == "" {
		return ErrNotFound
	}

	tokenHash := secret.Hash(token)
	expired := false
	err := e.inTx(ctx, func(ctx context.Context, q store.Queries) error {
		r, err := q.PasswordReset(ctx, tokenHash)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if !e.now().After(r.ExpiresAt) {
			return nil
		}
		expired = true
		err = q.DeletePasswordReset(ctx, tokenHash)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	if expired {
		return ErrExpired
	}
	return nil
}

// ResetPassword sets a new password using a reset token. The token and every
// other outstanding token of the user are consumed, and every session of the
// user is deleted, in the same transaction as the password change.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if token == "" {
		return ErrNotFound
	}
	tokenHash := secret.Hash(token)

	var (
		reset store.PasswordReset
		g     errgroup.Group
	)
	g.Go(func() error {
		return e.checkPassword(ctx, newPassword)
	})
	g.Go(func() error {
		return e.inTx(ctx, func(ctx context.Context, q store.Queries) error {
			r, err := q.PasswordReset(ctx, tokenHash)
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			reset = r
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		e.resetFailed(ctx, "", err)
		return err
	}
	if e.now().After(reset.ExpiresAt) {
		e.resetFailed(ctx, reset.UserID, ErrExpired)
		return ErrExpired
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return e.backendErr(err)
	}

	err = e.inTx(ctx, func(ctx context.Context, q store.Queries) error {
		// A concurrent reset may have consumed the token since the lookup.
		if err := q.DeletePasswordReset(ctx, tokenHash); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := q.DeleteUserPasswordResets(ctx, reset.UserID); err != nil {
			return err
		}
		if err := q.UpdatePasswordHash(ctx, reset.UserID, hash); err != nil {
			return err
		}
		n, err := q.DeleteUserSessions(ctx, reset.UserID)
		if err != nil {
			return err
		}
		for i := int64(0); i < n; i++ {
			e.metrics.Inc(MetricSessionInvalidated)
		}
		return nil
	})
	if err != nil {
		e.resetFailed(ctx, reset.UserID, err)
		return err
	}

	e.metrics.Inc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, EventPasswordReset, true, reset.UserID, "", nil, nil)
	return nil
}

func (e *Engine) resetFailed(ctx context.Context, userID string, err error) {
	if errors.Is(err, ErrUnavailable) {
		return
	}
	e.metrics.Inc(MetricPasswordResetFailure)
	e.emitAudit(ctx, EventPasswordReset, false, userID, "", err, nil)
}
