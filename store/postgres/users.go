package postgres

import (
	"context"
	"strings"

	"github.com/MrEthical07/authcore/store"
)

const selectUser = `
SELECT u.id, u.username, COALESCE(u.password_hash, ''), e.email, e.is_verified,
       EXISTS (SELECT 1 FROM two_factor_credentials t WHERE t.user_id = u.id),
       (SELECT count(*) FROM passkeys p WHERE p.user_id = u.id)
FROM users u
LEFT JOIN emails e ON e.user_id = u.id
`

func (q *Queries) UserByID(ctx context.Context, id string) (store.User, error) {
	return q.user(ctx, selectUser+`WHERE u.id = $1`, id)
}

func (q *Queries) UserByUsername(ctx context.Context, username string) (store.User, error) {
	return q.user(ctx, selectUser+`WHERE u.username = $1`, strings.ToLower(username))
}

func (q *Queries) UserByEmail(ctx context.Context, email string) (store.User, error) {
	return q.user(ctx, selectUser+`WHERE e.email = $1`, strings.ToLower(email))
}

func (q *Queries) user(ctx context.Context, query string, arg string) (store.User, error) {
	var (
		u          store.User
		address    *string
		verified   *bool
		passkeyCnt int64
	)
	err := q.db.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.Username, &u.PasswordHash, &address, &verified, &u.TwoFactorEnabled, &passkeyCnt,
	)
	if err != nil {
		return store.User{}, mapError(err)
	}

	if address != nil {
		u.Email = &store.Email{Address: *address, UserID: u.ID, Verified: verified != nil && *verified}
	}
	u.PasskeyCount = int(passkeyCnt)
	return u, nil
}

// InsertUser stores the user row only; the email goes through UpsertEmail.
func (q *Queries) InsertUser(ctx context.Context, u store.User) error {
	var hash *string
	if u.PasswordHash != "" {
		hash = &u.PasswordHash
	}
	_, err := q.db.Exec(ctx,
		`INSERT INTO users (id, username, password_hash) VALUES ($1, $2, $3)`,
		u.ID, strings.ToLower(u.Username), hash,
	)
	return mapError(err)
}

func (q *Queries) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	tag, err := q.db.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, userID, hash)
	if err != nil {
		return mapError(err)
	}
	return requireRows(tag)
}

// DeleteUser relies on ON DELETE CASCADE for dependent rows.
func (q *Queries) DeleteUser(ctx context.Context, id string) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	return requireRows(tag)
}

func (q *Queries) UpsertEmail(ctx context.Context, e store.Email) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO emails (email, user_id, is_verified) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET email = EXCLUDED.email, is_verified = EXCLUDED.is_verified
	`, strings.ToLower(e.Address), e.UserID, e.Verified)
	return mapError(err)
}

func (q *Queries) SetEmailVerified(ctx context.Context, userID string, verified bool) error {
	tag, err := q.db.Exec(ctx, `UPDATE emails SET is_verified = $2 WHERE user_id = $1`, userID, verified)
	if err != nil {
		return mapError(err)
	}
	return requireRows(tag)
}
