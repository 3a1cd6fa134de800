package postgres

import (
	"context"

	"github.com/MrEthical07/authcore/session"
)

func (q *Queries) InsertSession(ctx context.Context, s session.Session) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO sessions (id, user_id, expires_at, is_two_factor_verified, is_passkey_verified)
		VALUES ($1, $2, $3, $4, $5)
	`, s.ID, s.UserID, s.ExpiresAt, s.Flags.TwoFactorVerified, s.Flags.PasskeyVerified)
	return mapError(err)
}

func (q *Queries) Session(ctx context.Context, id string) (session.Session, error) {
	var s session.Session
	err := q.db.QueryRow(ctx, `
		SELECT id, user_id, expires_at, is_two_factor_verified, is_passkey_verified
		FROM sessions WHERE id = $1
	`, id).Scan(&s.ID, &s.UserID, &s.ExpiresAt, &s.Flags.TwoFactorVerified, &s.Flags.PasskeyVerified)
	if err != nil {
		return session.Session{}, mapError(err)
	}
	return s, nil
}

func (q *Queries) UpdateSession(ctx context.Context, s session.Session) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE sessions SET expires_at = $2, is_two_factor_verified = $3, is_passkey_verified = $4
		WHERE id = $1
	`, s.ID, s.ExpiresAt, s.Flags.TwoFactorVerified, s.Flags.PasskeyVerified)
	if err != nil {
		return mapError(err)
	}
	return requireRows(tag)
}

func (q *Queries) DeleteSession(ctx context.Context, id string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return mapError(err)
}

func (q *Queries) DeleteUserSessions(ctx context.Context, userID string) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}
