package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
)

func seedUser(t *testing.T, s *Store, id, username, email string) {
	t.Helper()
	err := s.InTx(context.Background(), func(ctx context.Context, q store.Queries) error {
		if err := q.InsertUser(ctx, store.User{ID: id, Username: username, PasswordHash: "hash"}); err != nil {
			return err
		}
		return q.UpsertEmail(ctx, store.Email{Address: email, UserID: id})
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func verification(t *testing.T, s *Store, email string) (store.EmailVerification, error) {
	t.Helper()
	var v store.EmailVerification
	err := s.InTx(context.Background(), func(ctx context.Context, q store.Queries) error {
		var err error
		v, err = q.EmailVerification(ctx, email)
		return err
	})
	return v, err
}

func TestInsertEmailVerificationOnlyReplacesSameAddress(t *testing.T) {
	s := New()
	seedUser(t, s, "user", "username", "test@example.com")
	seedUser(t, s, "user2", "username2", "test2@example.com")

	expires := time.Now().Add(15 * time.Hour)
	err := s.InTx(context.Background(), func(ctx context.Context, q store.Queries) error {
		if err := q.InsertEmailVerification(ctx, store.EmailVerification{Email: "test@example.com", Code: "wrong", ExpiresAt: expires}); err != nil {
			return err
		}
		return q.InsertEmailVerification(ctx, store.EmailVerification{Email: "test2@example.com", Code: "WRONG", ExpiresAt: expires})
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	err = s.InTx(context.Background(), func(ctx context.Context, q store.Queries) error {
		return q.InsertEmailVerification(ctx, store.EmailVerification{Email: "test@example.com", Code: "NEWCODE1", ExpiresAt: expires})
	})
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}

	a, err := verification(t, s, "test@example.com")
	if err != nil {
		t.Fatalf("lookup A: %v", err)
	}
	if a.Code != "NEWCODE1" {
		t.Fatalf("A code = %q, want the regenerated one", a.Code)
	}

	count := 0
	for addr := range s.data.verifications {
		if addr == "test@example.com" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("records for A = %d, want 1", count)
	}

	b, err := verification(t, s, "test2@example.com")
	if err != nil {
		t.Fatalf("lookup B: %v", err)
	}
	if b.Code != "WRONG" {
		t.Fatalf("B code = %q, want WRONG", b.Code)
	}
}

func TestFailedTransactionLeavesNoTrace(t *testing.T) {
	s := New()
	seedUser(t, s, "user", "username", "test@example.com")

	boom := errors.New("boom")
	err := s.InTx(context.Background(), func(ctx context.Context, q store.Queries) error {
		if err := q.UpdatePasswordHash(ctx, "user", "changed"); err != nil {
			return err
		}
		if _, err := q.DeleteUserSessions(ctx, "user"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	_ = s.InTx(context.Background(), func(ctx context.Context, q store.Queries) error {
		u, err := q.UserByID(ctx, "user")
		if err != nil {
			t.Fatalf("UserByID: %v", err)
		}
		if u.PasswordHash != "hash" {
			t.Fatalf("password hash = %q, rollback did not happen", u.PasswordHash)
		}
		return nil
	})
}

func TestInsertPasswordResetReplacesOnlySameUser(t *testing.T) {
	s := New()
	seedUser(t, s, "u1", "one", "one@example.com")
	seedUser(t, s, "u2", "two", "two@example.com")
	exp := time.Now().Add(time.Hour)

	err := s.InTx(context.Background(), func(ctx context.Context, q store.Queries) error {
		for _, r := range []store.PasswordReset{
			{TokenHash: "h1", UserID: "u1", ExpiresAt: exp},
			{TokenHash: "h2", UserID: "u2", ExpiresAt: exp},
			{TokenHash: "h3", UserID: "u1", ExpiresAt: exp},
		} {
			if err := q.InsertPasswordReset(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert resets: %v", err)
	}

	if _, ok := s.data.resets["h1"]; ok {
		t.Fatal("superseded reset h1 still present")
	}
	if _, ok := s.data.resets["h2"]; !ok {
		t.Fatal("other user's reset h2 was removed")
	}
	if _, ok := s.data.resets["h3"]; !ok {
		t.Fatal("latest reset h3 missing")
	}
}

func TestDeleteUserCascades(t *testing.T) {
	s := New()
	seedUser(t, s, "u1", "one", "one@example.com")

	err := s.InTx(context.Background(), func(ctx context.Context, q store.Queries) error {
		if err := q.InsertEmailVerification(ctx, store.EmailVerification{Email: "one@example.com", Code: "C", ExpiresAt: time.Now()}); err != nil {
			return err
		}
		if err := q.InsertSession(ctx, session.Session{ID: "s1", UserID: "u1"}); err != nil {
			return err
		}
		if err := q.InsertPasswordReset(ctx, store.PasswordReset{TokenHash: "h", UserID: "u1"}); err != nil {
			return err
		}
		return q.DeleteUser(ctx, "u1")
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	d := s.data
	if len(d.users)+len(d.emails)+len(d.verifications)+len(d.sessions)+len(d.resets) != 0 {
		t.Fatalf("cascade left rows behind: %+v", d)
	}
}

func TestUserWithoutPasswordNeedsPasskey(t *testing.T) {
	s := New()

	err := s.InTx(context.Background(), func(ctx context.Context, q store.Queries) error {
		return q.InsertUser(ctx, store.User{ID: "u1", Username: "nopass"})
	})
	if !errors.Is(err, store.ErrCredentialRequired) {
		t.Fatalf("err = %v, want ErrCredentialRequired", err)
	}

	err = s.InTx(context.Background(), func(ctx context.Context, q store.Queries) error {
		if err := q.InsertUser(ctx, store.User{ID: "u1", Username: "nopass"}); err != nil {
			return err
		}
		return q.InsertPasskey(ctx, store.Passkey{CredentialID: "c1", UserID: "u1", PublicKey: []byte{1}})
	})
	if err != nil {
		t.Fatalf("passkey-only user rejected: %v", err)
	}
}

func TestUsernameAndEmailAreCaseInsensitive(t *testing.T) {
	s := New()
	seedUser(t, s, "u1", "Alice", "Alice@Example.com")

	err := s.InTx(context.Background(), func(ctx context.Context, q store.Queries) error {
		if _, err := q.UserByUsername(ctx, "ALICE"); err != nil {
			return err
		}
		u, err := q.UserByEmail(ctx, "alice@example.COM")
		if err != nil {
			return err
		}
		if u.Email.Address != "alice@example.com" {
			t.Fatalf("stored address = %q", u.Email.Address)
		}
		return q.InsertUser(ctx, store.User{ID: "u2", Username: "alice", PasswordHash: "h"})
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict for duplicate username", err)
	}
}

func TestEmailUniqueAcrossUsers(t *testing.T) {
	s := New()
	seedUser(t, s, "u1", "one", "shared@example.com")

	err := s.InTx(context.Background(), func(ctx context.Context, q store.Queries) error {
		if err := q.InsertUser(ctx, store.User{ID: "u2", Username: "two", PasswordHash: "h"}); err != nil {
			return err
		}
		return q.UpsertEmail(ctx, store.Email{Address: "SHARED@example.com", UserID: "u2"})
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestInTxHonoursCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.InTx(ctx, func(ctx context.Context, q store.Queries) error {
		t.Fatal("fn ran with a cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
