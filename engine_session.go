package authcore

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
)

// ValidateSession resolves token to its session and user. Sessions close to
// expiry are extended. An unknown or expired token is ErrUnauthenticated;
// the expired record is deleted.
//
// A valid session may still need a step; check SessionInfo.Next before
// treating the user as signed in.
func (e *Engine) ValidateSession(ctx context.Context, token string) (SessionInfo, error) {
	if e == nil {
		return SessionInfo{}, ErrEngineNotReady
	}

	var info SessionInfo
	err := e.sessionTx(ctx, token, func(ctx context.Context, q store.Queries, s session.Session, u store.User) error {
		now := e.now()
		if e.lifetime.NeedsRenewal(s, now) {
			s.ExpiresAt = e.lifetime.ExpiresAt(now)
			if err := q.UpdateSession(ctx, s); err != nil {
				return err
			}
			info.Renewed = true
		}
		info.Session = s
		info.User = u
		info.Next = e.nextStep(s, u)
		return nil
	})
	if err != nil {
		return SessionInfo{}, err
	}

	if info.Renewed {
		e.metrics.Inc(MetricSessionRenewed)
	}
	return info, nil
}

// Logout deletes the session behind token. Logging out an unknown session
// succeeds.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if token == "" {
		return nil
	}

	id := session.IDFromToken(token)
	var userID string
	err := e.inTx(ctx, func(ctx context.Context, q store.Queries) error {
		s, err := q.Session(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		userID = s.UserID
		return q.DeleteSession(ctx, id)
	})
	if err != nil {
		return err
	}
	if userID == "" {
		return nil
	}

	e.metrics.Inc(MetricLogout)
	e.metrics.Inc(MetricSessionInvalidated)
	e.emitAudit(ctx, EventLogout, true, userID, id, nil, nil)
	return nil
}

// LogoutAll deletes every session of the user behind token, including the
// current one. It returns the number of sessions removed.
func (e *Engine) LogoutAll(ctx context.Context, token string) (int64, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}

	var (
		userID string
		n      int64
	)
	err := e.sessionTx(ctx, token, func(ctx context.Context, q store.Queries, _ session.Session, u store.User) error {
		deleted, err := q.DeleteUserSessions(ctx, u.ID)
		if err != nil {
			return err
		}
		userID, n = u.ID, deleted
		return nil
	})
	if err != nil {
		return 0, err
	}

	e.metrics.Inc(MetricLogoutAll)
	for i := int64(0); i < n; i++ {
		e.metrics.Inc(MetricSessionInvalidated)
	}
	e.emitAudit(ctx, EventLogoutAll, true, userID, "", nil, map[string]string{"sessions": strconv.FormatInt(n, 10)})
	return n, nil
}
