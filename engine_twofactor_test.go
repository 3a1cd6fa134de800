package authcore

import (
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/session"
)

// enrollTwoFactor enables TOTP for the user behind a trusted token and
// returns the secret.
func (env *testEnv) enrollTwoFactor(t *testing.T, token string) string {
	t.Helper()

	key, err := env.engine.NewTwoFactorKey(testCtx(), token)
	if err != nil {
		t.Fatalf("NewTwoFactorKey failed: %v", err)
	}
	if key.Secret == "" || key.URL == "" {
		t.Fatalf("incomplete key: %+v", key)
	}

	code, err := env.engine.totp.Code(key.Secret, env.clock.Now())
	if err != nil {
		t.Fatalf("Code failed: %v", err)
	}
	if err := env.engine.EnrollTwoFactor(testCtx(), token, code); err != nil {
		t.Fatalf("EnrollTwoFactor failed: %v", err)
	}
	return key.Secret
}

func TestTwoFactorLoginFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	trusted := env.verifiedUser(t, "alice", "alice@example.com")
	secret := env.enrollTwoFactor(t, trusted)

	info, err := env.engine.ValidateSession(testCtx(), trusted)
	if err != nil {
		t.Fatalf("ValidateSession failed: %v", err)
	}
	if info.Next != session.StepNone {
		t.Fatalf("enrolling session should stay trusted, got %s", info.Next)
	}

	login, err := env.engine.Login(testCtx(), LoginRequest{Identifier: "alice", Password: testPassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if login.Next != session.StepTwoFactor {
		t.Fatalf("expected two-factor step, got %s", login.Next)
	}

	if _, err := env.engine.VerifyTwoFactor(testCtx(), login.Token, "000000"); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}

	// The enrollment code's time step is spent.
	spent, _ := env.engine.totp.Code(secret, env.clock.Now())
	if _, err := env.engine.VerifyTwoFactor(testCtx(), login.Token, spent); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected replayed code to fail, got %v", err)
	}

	env.clock.Advance(2 * time.Minute)
	code, _ := env.engine.totp.Code(secret, env.clock.Now())
	next, err := env.engine.VerifyTwoFactor(testCtx(), login.Token, code)
	if err != nil {
		t.Fatalf("VerifyTwoFactor failed: %v", err)
	}
	if next != session.StepNone {
		t.Fatalf("expected StepNone, got %s", next)
	}

	again, err := env.engine.Login(testCtx(), LoginRequest{Identifier: "alice", Password: testPassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, err := env.engine.VerifyTwoFactor(testCtx(), again.Token, code); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected code reuse on another session to fail, got %v", err)
	}
}

func TestTwoFactorRequiresVerifiedEmail(t *testing.T) {
	env := newTestEnv(t, nil)
	res, _ := env.signup(t, "alice", "alice@example.com")

	_, err := env.engine.VerifyTwoFactor(testCtx(), res.Token, "123456")
	var step *StepRequiredError
	if !errors.As(err, &step) || step.Step != session.StepEmailVerification {
		t.Fatalf("expected email verification step, got %v", err)
	}

	if _, err := env.engine.NewTwoFactorKey(testCtx(), res.Token); !errors.Is(err, ErrStepRequired) {
		t.Fatalf("expected ErrStepRequired for enrollment, got %v", err)
	}
}

func TestTwoFactorNotEnrolled(t *testing.T) {
	env := newTestEnv(t, nil)
	trusted := env.verifiedUser(t, "alice", "alice@example.com")

	if _, err := env.engine.VerifyTwoFactor(testCtx(), trusted, "123456"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestEnrollTwoFactorRejectsWrongCode(t *testing.T) {
	env := newTestEnv(t, nil)
	trusted := env.verifiedUser(t, "alice", "alice@example.com")

	key, err := env.engine.NewTwoFactorKey(testCtx(), trusted)
	if err != nil {
		t.Fatalf("NewTwoFactorKey failed: %v", err)
	}
	wrong := "000000"
	if code, _ := env.engine.totp.Code(key.Secret, env.clock.Now()); code == wrong {
		wrong = "111111"
	}
	if err := env.engine.EnrollTwoFactor(testCtx(), trusted, wrong); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}

	info, err := env.engine.ValidateSession(testCtx(), trusted)
	if err != nil {
		t.Fatalf("ValidateSession failed: %v", err)
	}
	if info.User.TwoFactorEnabled {
		t.Fatal("two-factor must not be enabled by a rejected code")
	}
}

func TestEnrollTwoFactorOnlyAcceptsIssuedKey(t *testing.T) {
	env := newTestEnv(t, nil)
	trusted := env.verifiedUser(t, "alice", "alice@example.com")

	// A secret the client made up is never enrolled, with or without an
	// issued key outstanding.
	own, err := env.engine.totp.Generate("alice")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	ownCode, err := env.engine.totp.Code(own.Secret, env.clock.Now())
	if err != nil {
		t.Fatalf("Code failed: %v", err)
	}
	if err := env.engine.EnrollTwoFactor(testCtx(), trusted, ownCode); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest without an issued key, got %v", err)
	}

	key, err := env.engine.NewTwoFactorKey(testCtx(), trusted)
	if err != nil {
		t.Fatalf("NewTwoFactorKey failed: %v", err)
	}
	issuedCode, err := env.engine.totp.Code(key.Secret, env.clock.Now())
	if err != nil {
		t.Fatalf("Code failed: %v", err)
	}
	if ownCode != issuedCode {
		if err := env.engine.EnrollTwoFactor(testCtx(), trusted, ownCode); !errors.Is(err, ErrInvalidCredential) {
			t.Fatalf("expected ErrInvalidCredential for a foreign secret, got %v", err)
		}
	}

	// The key belongs to the session that asked for it.
	other, err := env.engine.Login(testCtx(), LoginRequest{Identifier: "alice", Password: testPassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if err := env.engine.EnrollTwoFactor(testCtx(), other.Token, issuedCode); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest from another session, got %v", err)
	}

	if err := env.engine.EnrollTwoFactor(testCtx(), trusted, issuedCode); err != nil {
		t.Fatalf("EnrollTwoFactor failed: %v", err)
	}
	info, err := env.engine.ValidateSession(testCtx(), trusted)
	if err != nil {
		t.Fatalf("ValidateSession failed: %v", err)
	}
	if !info.User.TwoFactorEnabled {
		t.Fatal("expected two-factor to be enabled")
	}
}

func TestTwoFactorBucketCapsGuesses(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Buckets.TwoFactor = BucketConfig{Max: 2, Interval: 30 * time.Minute}
	})
	trusted := env.verifiedUser(t, "alice", "alice@example.com")
	secret := env.enrollTwoFactor(t, trusted)

	login, err := env.engine.Login(testCtx(), LoginRequest{Identifier: "alice", Password: testPassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := env.engine.VerifyTwoFactor(testCtx(), login.Token, "000000"); !errors.Is(err, ErrInvalidCredential) {
			t.Fatalf("attempt %d: expected ErrInvalidCredential, got %v", i, err)
		}
	}

	env.clock.Advance(time.Minute)
	code, _ := env.engine.totp.Code(secret, env.clock.Now())
	if _, err := env.engine.VerifyTwoFactor(testCtx(), login.Token, code); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}
