package postgres

import (
	"context"

	"github.com/MrEthical07/authcore/store"
)

func (q *Queries) InsertPasskey(ctx context.Context, p store.Passkey) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO passkeys (credential_id, user_id, public_key, algorithm, sign_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.CredentialID, p.UserID, p.PublicKey, p.Algorithm, int64(p.SignCount), p.CreatedAt)
	return mapError(err)
}

func (q *Queries) Passkey(ctx context.Context, userID, credentialID string) (store.Passkey, error) {
	var (
		p         store.Passkey
		signCount int64
	)
	err := q.db.QueryRow(ctx, `
		SELECT credential_id, user_id, public_key, algorithm, sign_count, created_at
		FROM passkeys WHERE user_id = $1 AND credential_id = $2
	`, userID, credentialID).Scan(&p.CredentialID, &p.UserID, &p.PublicKey, &p.Algorithm, &signCount, &p.CreatedAt)
	if err != nil {
		return store.Passkey{}, mapError(err)
	}
	p.SignCount = uint32(signCount)
	return p, nil
}

func (q *Queries) UpdatePasskeySignCount(ctx context.Context, credentialID string, count uint32) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE passkeys SET sign_count = $2 WHERE credential_id = $1`,
		credentialID, int64(count),
	)
	if err != nil {
		return mapError(err)
	}
	return requireRows(tag)
}

func (q *Queries) TwoFactorCredential(ctx context.Context, userID string) (store.TwoFactorCredential, error) {
	var c store.TwoFactorCredential
	err := q.db.QueryRow(ctx,
		`SELECT user_id, secret FROM two_factor_credentials WHERE user_id = $1`,
		userID,
	).Scan(&c.UserID, &c.Secret)
	if err != nil {
		return store.TwoFactorCredential{}, mapError(err)
	}
	return c, nil
}

func (q *Queries) UpsertTwoFactorCredential(ctx context.Context, c store.TwoFactorCredential) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO two_factor_credentials (user_id, secret) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET secret = EXCLUDED.secret
	`, c.UserID, c.Secret)
	return mapError(err)
}
