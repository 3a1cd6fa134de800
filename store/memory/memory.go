// Package memory is an in-process store.Store used by tests and local
// development. Transactions run against a copy of the data that replaces the
// live copy only when fn succeeds, so a failed transaction leaves no trace.
package memory

import (
	"context"
	"maps"
	"strings"
	"sync"

	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
)

type userRow struct {
	id           string
	username     string
	passwordHash string
}

type data struct {
	users         map[string]userRow
	usernames     map[string]string
	emails        map[string]store.Email
	emailByUser   map[string]string
	verifications map[string]store.EmailVerification
	resets        map[string]store.PasswordReset
	sessions      map[string]session.Session
	passkeys      map[string]store.Passkey
	twoFactor     map[string]store.TwoFactorCredential
}

func newData() *data {
	return &data{
		users:         map[string]userRow{},
		usernames:     map[string]string{},
		emails:        map[string]store.Email{},
		emailByUser:   map[string]string{},
		verifications: map[string]store.EmailVerification{},
		resets:        map[string]store.PasswordReset{},
		sessions:      map[string]session.Session{},
		passkeys:      map[string]store.Passkey{},
		twoFactor:     map[string]store.TwoFactorCredential{},
	}
}

func (d *data) clone() *data {
	return &data{
		users:         maps.Clone(d.users),
		usernames:     maps.Clone(d.usernames),
		emails:        maps.Clone(d.emails),
		emailByUser:   maps.Clone(d.emailByUser),
		verifications: maps.Clone(d.verifications),
		resets:        maps.Clone(d.resets),
		sessions:      maps.Clone(d.sessions),
		passkeys:      maps.Clone(d.passkeys),
		twoFactor:     maps.Clone(d.twoFactor),
	}
}

// Store is safe for concurrent use. Transactions are serialised.
type Store struct {
	mu   sync.Mutex
	data *data
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{data: newData()}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, q store.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.data.clone()
	if err := fn(ctx, &queries{d: working}); err != nil {
		return err
	}
	if err := working.checkCredentials(); err != nil {
		return err
	}
	s.data = working
	return nil
}

// checkCredentials mirrors the deferred constraint of the postgres schema.
func (d *data) checkCredentials() error {
	for id, u := range d.users {
		if u.passwordHash != "" {
			continue
		}
		if d.passkeyCount(id) == 0 {
			return store.ErrCredentialRequired
		}
	}
	return nil
}

func (d *data) passkeyCount(userID string) int {
	n := 0
	for _, p := range d.passkeys {
		if p.UserID == userID {
			n++
		}
	}
	return n
}

type queries struct {
	d *data
}

func (q *queries) UserByID(_ context.Context, id string) (store.User, error) {
	row, ok := q.d.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return q.user(row), nil
}

func (q *queries) UserByUsername(_ context.Context, username string) (store.User, error) {
	id, ok := q.d.usernames[strings.ToLower(username)]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return q.user(q.d.users[id]), nil
}

func (q *queries) UserByEmail(_ context.Context, email string) (store.User, error) {
	e, ok := q.d.emails[strings.ToLower(email)]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return q.user(q.d.users[e.UserID]), nil
}

func (q *queries) user(row userRow) store.User {
	u := store.User{
		ID:           row.id,
		Username:     row.username,
		PasswordHash: row.passwordHash,
		PasskeyCount: q.d.passkeyCount(row.id),
	}
	if addr, ok := q.d.emailByUser[row.id]; ok {
		e := q.d.emails[addr]
		u.Email = &e
	}
	_, u.TwoFactorEnabled = q.d.twoFactor[row.id]
	return u
}

func (q *queries) InsertUser(_ context.Context, u store.User) error {
	username := strings.ToLower(u.Username)
	if _, exists := q.d.users[u.ID]; exists {
		return store.ErrConflict
	}
	if _, exists := q.d.usernames[username]; exists {
		return store.ErrConflict
	}
	q.d.users[u.ID] = userRow{id: u.ID, username: username, passwordHash: u.PasswordHash}
	q.d.usernames[username] = u.ID
	return nil
}

func (q *queries) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	row, ok := q.d.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	row.passwordHash = hash
	q.d.users[userID] = row
	return nil
}

func (q *queries) DeleteUser(_ context.Context, id string) error {
	row, ok := q.d.users[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(q.d.users, id)
	delete(q.d.usernames, row.username)
	if addr, ok := q.d.emailByUser[id]; ok {
		delete(q.d.emails, addr)
		delete(q.d.emailByUser, id)
		delete(q.d.verifications, addr)
	}
	maps.DeleteFunc(q.d.resets, func(_ string, r store.PasswordReset) bool { return r.UserID == id })
	maps.DeleteFunc(q.d.sessions, func(_ string, s session.Session) bool { return s.UserID == id })
	maps.DeleteFunc(q.d.passkeys, func(_ string, p store.Passkey) bool { return p.UserID == id })
	delete(q.d.twoFactor, id)
	return nil
}

func (q *queries) UpsertEmail(_ context.Context, e store.Email) error {
	if _, ok := q.d.users[e.UserID]; !ok {
		return store.ErrNotFound
	}
	e.Address = strings.ToLower(e.Address)
	if existing, ok := q.d.emails[e.Address]; ok && existing.UserID != e.UserID {
		return store.ErrConflict
	}
	if prev, ok := q.d.emailByUser[e.UserID]; ok && prev != e.Address {
		delete(q.d.emails, prev)
	}
	q.d.emails[e.Address] = e
	q.d.emailByUser[e.UserID] = e.Address
	return nil
}

func (q *queries) SetEmailVerified(_ context.Context, userID string, verified bool) error {
	addr, ok := q.d.emailByUser[userID]
	if !ok {
		return store.ErrNotFound
	}
	e := q.d.emails[addr]
	e.Verified = verified
	q.d.emails[addr] = e
	return nil
}

func (q *queries) InsertEmailVerification(_ context.Context, v store.EmailVerification) error {
	v.Email = strings.ToLower(v.Email)
	q.d.verifications[v.Email] = v
	return nil
}

func (q *queries) EmailVerification(_ context.Context, email string) (store.EmailVerification, error) {
	v, ok := q.d.verifications[strings.ToLower(email)]
	if !ok {
		return store.EmailVerification{}, store.ErrNotFound
	}
	return v, nil
}

func (q *queries) DeleteEmailVerification(_ context.Context, email string) error {
	delete(q.d.verifications, strings.ToLower(email))
	return nil
}

func (q *queries) InsertPasswordReset(ctx context.Context, r store.PasswordReset) error {
	if _, ok := q.d.users[r.UserID]; !ok {
		return store.ErrNotFound
	}
	_ = q.DeleteUserPasswordResets(ctx, r.UserID)
	q.d.resets[r.TokenHash] = r
	return nil
}

func (q *queries) PasswordReset(_ context.Context, tokenHash string) (store.PasswordReset, error) {
	r, ok := q.d.resets[tokenHash]
	if !ok {
		return store.PasswordReset{}, store.ErrNotFound
	}
	return r, nil
}

func (q *queries) DeletePasswordReset(_ context.Context, tokenHash string) error {
	if _, ok := q.d.resets[tokenHash]; !ok {
		return store.ErrNotFound
	}
	delete(q.d.resets, tokenHash)
	return nil
}

func (q *queries) DeleteUserPasswordResets(_ context.Context, userID string) error {
	maps.DeleteFunc(q.d.resets, func(_ string, r store.PasswordReset) bool { return r.UserID == userID })
	return nil
}

func (q *queries) InsertSession(_ context.Context, s session.Session) error {
	if _, ok := q.d.users[s.UserID]; !ok {
		return store.ErrNotFound
	}
	if _, exists := q.d.sessions[s.ID]; exists {
		return store.ErrConflict
	}
	q.d.sessions[s.ID] = s
	return nil
}

func (q *queries) Session(_ context.Context, id string) (session.Session, error) {
	s, ok := q.d.sessions[id]
	if !ok {
		return session.Session{}, store.ErrNotFound
	}
	return s, nil
}

func (q *queries) UpdateSession(_ context.Context, s session.Session) error {
	existing, ok := q.d.sessions[s.ID]
	if !ok {
		return store.ErrNotFound
	}
	existing.ExpiresAt = s.ExpiresAt
	existing.Flags = s.Flags
	q.d.sessions[s.ID] = existing
	return nil
}

func (q *queries) DeleteSession(_ context.Context, id string) error {
	delete(q.d.sessions, id)
	return nil
}

func (q *queries) DeleteUserSessions(_ context.Context, userID string) (int64, error) {
	before := len(q.d.sessions)
	maps.DeleteFunc(q.d.sessions, func(_ string, s session.Session) bool { return s.UserID == userID })
	return int64(before - len(q.d.sessions)), nil
}

func (q *queries) InsertPasskey(_ context.Context, p store.Passkey) error {
	if _, ok := q.d.users[p.UserID]; !ok {
		return store.ErrNotFound
	}
	if _, exists := q.d.passkeys[p.CredentialID]; exists {
		return store.ErrConflict
	}
	p.PublicKey = append([]byte(nil), p.PublicKey...)
	q.d.passkeys[p.CredentialID] = p
	return nil
}

func (q *queries) Passkey(_ context.Context, userID, credentialID string) (store.Passkey, error) {
	p, ok := q.d.passkeys[credentialID]
	if !ok || p.UserID != userID {
		return store.Passkey{}, store.ErrNotFound
	}
	return p, nil
}

func (q *queries) UpdatePasskeySignCount(_ context.Context, credentialID string, count uint32) error {
	p, ok := q.d.passkeys[credentialID]
	if !ok {
		return store.ErrNotFound
	}
	p.SignCount = count
	q.d.passkeys[credentialID] = p
	return nil
}

func (q *queries) TwoFactorCredential(_ context.Context, userID string) (store.TwoFactorCredential, error) {
	c, ok := q.d.twoFactor[userID]
	if !ok {
		return store.TwoFactorCredential{}, store.ErrNotFound
	}
	return c, nil
}

func (q *queries) UpsertTwoFactorCredential(_ context.Context, c store.TwoFactorCredential) error {
	if _, ok := q.d.users[c.UserID]; !ok {
		return store.ErrNotFound
	}
	q.d.twoFactor[c.UserID] = c
	return nil
}
