package postgres

import (
	"context"
	"strings"

	"github.com/MrEthical07/authcore/store"
)

// InsertEmailVerification upserts on the email primary key, which drops the
// previous code for that address only.
func (q *Queries) InsertEmailVerification(ctx context.Context, v store.EmailVerification) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO email_verifications (email, code, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET code = EXCLUDED.code, expires_at = EXCLUDED.expires_at
	`, strings.ToLower(v.Email), v.Code, v.ExpiresAt)
	return mapError(err)
}

func (q *Queries) EmailVerification(ctx context.Context, email string) (store.EmailVerification, error) {
	var v store.EmailVerification
	err := q.db.QueryRow(ctx,
		`SELECT email, code, expires_at FROM email_verifications WHERE email = $1`,
		strings.ToLower(email),
	).Scan(&v.Email, &v.Code, &v.ExpiresAt)
	if err != nil {
		return store.EmailVerification{}, mapError(err)
	}
	return v, nil
}

func (q *Queries) DeleteEmailVerification(ctx context.Context, email string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM email_verifications WHERE email = $1`, strings.ToLower(email))
	return mapError(err)
}

func (q *Queries) InsertPasswordReset(ctx context.Context, r store.PasswordReset) error {
	if err := q.DeleteUserPasswordResets(ctx, r.UserID); err != nil {
		return err
	}
	_, err := q.db.Exec(ctx,
		`INSERT INTO password_resets (token_hash, user_id, expires_at) VALUES ($1, $2, $3)`,
		r.TokenHash, r.UserID, r.ExpiresAt,
	)
	return mapError(err)
}

func (q *Queries) PasswordReset(ctx context.Context, tokenHash string) (store.PasswordReset, error) {
	var r store.PasswordReset
	err := q.db.QueryRow(ctx,
		`SELECT token_hash, user_id, expires_at FROM password_resets WHERE token_hash = $1`,
		tokenHash,
	).Scan(&r.TokenHash, &r.UserID, &r.ExpiresAt)
	if err != nil {
		return store.PasswordReset{}, mapError(err)
	}
	return r, nil
}

func (q *Queries) DeletePasswordReset(ctx context.Context, tokenHash string) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM password_resets WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return mapError(err)
	}
	return requireRows(tag)
}

func (q *Queries) DeleteUserPasswordResets(ctx context.Context, userID string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM password_resets WHERE user_id = $1`, userID)
	return mapError(err)
}
