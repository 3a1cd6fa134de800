package authcore

import (
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/passkey"
	"github.com/MrEthical07/authcore/passkey/passkeytest"
	"github.com/MrEthical07/authcore/session"
)

const (
	testRPID   = "localhost"
	testOrigin = "http://localhost:8080"
)

func (env *testEnv) registerPasskey(t *testing.T, token string, alg int) *passkeytest.Authenticator {
	t.Helper()

	auth := passkeytest.New(alg)
	err := env.engine.RegisterPasskey(testCtx(), token, PasskeyRegistration{
		CredentialID: auth.CredentialID,
		PublicKey:    auth.PublicKey,
		Algorithm:    auth.Algorithm,
	})
	if err != nil {
		t.Fatalf("RegisterPasskey failed: %v", err)
	}
	return auth
}

func (env *testEnv) passkeyLogin(t *testing.T, identifier string, auth *passkeytest.Authenticator) (LoginResult, error) {
	t.Helper()

	c, err := env.engine.BeginPasskeyLogin(testCtx())
	if err != nil {
		t.Fatalf("BeginPasskeyLogin failed: %v", err)
	}
	return env.engine.LoginWithPasskey(testCtx(), PasskeyLoginRequest{
		Identifier:  identifier,
		ChallengeID: c.ID,
		Assertion:   auth.Assert(c.Value, testRPID, testOrigin),
	})
}

func TestPasskeyLoginSatisfiesTwoFactor(t *testing.T) {
	for _, alg := range []int{passkey.AlgES256, passkey.AlgEdDSA, passkey.AlgRS256} {
		env := newTestEnv(t, nil)
		trusted := env.verifiedUser(t, "alice", "alice@example.com")
		auth := env.registerPasskey(t, trusted, alg)
		env.enrollTwoFactor(t, trusted)

		res, err := env.passkeyLogin(t, "alice", auth)
		if err != nil {
			t.Fatalf("alg %d: LoginWithPasskey failed: %v", alg, err)
		}
		if !res.Session.Flags.PasskeyVerified || res.Session.Flags.TwoFactorVerified {
			t.Fatalf("alg %d: unexpected flags %+v", alg, res.Session.Flags)
		}
		if res.Next != session.StepNone {
			t.Fatalf("alg %d: expected StepNone, got %s", alg, res.Next)
		}
	}
}

func TestPasskeyChallengeIsSingleUse(t *testing.T) {
	env := newTestEnv(t, nil)
	trusted := env.verifiedUser(t, "alice", "alice@example.com")
	auth := env.registerPasskey(t, trusted, passkey.AlgES256)

	c, err := env.engine.BeginPasskeyLogin(testCtx())
	if err != nil {
		t.Fatalf("BeginPasskeyLogin failed: %v", err)
	}
	req := PasskeyLoginRequest{
		Identifier:  "alice",
		ChallengeID: c.ID,
		Assertion:   auth.Assert(c.Value, testRPID, testOrigin),
	}
	if _, err := env.engine.LoginWithPasskey(testCtx(), req); err != nil {
		t.Fatalf("LoginWithPasskey failed: %v", err)
	}

	req.Assertion = auth.Assert(c.Value, testRPID, testOrigin)
	if _, err := env.engine.LoginWithPasskey(testCtx(), req); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected reused challenge to fail, got %v", err)
	}
}

func TestPasskeyLoginRejections(t *testing.T) {
	env := newTestEnv(t, nil)
	trusted := env.verifiedUser(t, "alice", "alice@example.com")
	auth := env.registerPasskey(t, trusted, passkey.AlgES256)
	stranger := passkeytest.New(passkey.AlgES256)

	tests := []struct {
		name   string
		user   string
		assert func(challenge []byte) passkey.Assertion
	}{
		{"wrong origin", "alice", func(c []byte) passkey.Assertion { return auth.Assert(c, testRPID, "https://evil.example") }},
		{"wrong rp id", "alice", func(c []byte) passkey.Assertion { return auth.Assert(c, "evil.example", testOrigin) }},
		{"wrong challenge", "alice", func([]byte) passkey.Assertion { return auth.Assert([]byte("forged"), testRPID, testOrigin) }},
		{"unregistered credential", "alice", func(c []byte) passkey.Assertion { return stranger.Assert(c, testRPID, testOrigin) }},
		{"unknown user", "nobody", func(c []byte) passkey.Assertion { return auth.Assert(c, testRPID, testOrigin) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := env.engine.BeginPasskeyLogin(testCtx())
			if err != nil {
				t.Fatalf("BeginPasskeyLogin failed: %v", err)
			}
			_, err = env.engine.LoginWithPasskey(testCtx(), PasskeyLoginRequest{
				Identifier:  tc.user,
				ChallengeID: c.ID,
				Assertion:   tc.assert(c.Value),
			})
			if !errors.Is(err, ErrInvalidCredential) {
				t.Fatalf("expected ErrInvalidCredential, got %v", err)
			}
		})
	}

	if got := env.engine.metrics.Value(MetricPasskeyLoginFailure); got != uint64(len(tests)) {
		t.Fatalf("expected %d passkey failures, got %d", len(tests), got)
	}
}

func TestPasskeySignCountMustAdvance(t *testing.T) {
	env := newTestEnv(t, nil)
	trusted := env.verifiedUser(t, "alice", "alice@example.com")
	auth := env.registerPasskey(t, trusted, passkey.AlgEdDSA)

	if _, err := env.passkeyLogin(t, "alice", auth); err != nil {
		t.Fatalf("LoginWithPasskey failed: %v", err)
	}

	// A cloned authenticator replays an old counter.
	auth.SignCount = 0
	if _, err := env.passkeyLogin(t, "alice", auth); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected stale counter to fail, got %v", err)
	}
}

func TestRegisterPasskeyRequiresTrustedSession(t *testing.T) {
	env := newTestEnv(t, nil)
	res, _ := env.signup(t, "alice", "alice@example.com")
	auth := passkeytest.New(passkey.AlgES256)

	err := env.engine.RegisterPasskey(testCtx(), res.Token, PasskeyRegistration{
		CredentialID: auth.CredentialID,
		PublicKey:    auth.PublicKey,
		Algorithm:    auth.Algorithm,
	})
	var step *StepRequiredError
	if !errors.As(err, &step) || step.Step != session.StepEmailVerification {
		t.Fatalf("expected email verification step, got %v", err)
	}

	trusted := env.verifiedUser(t, "bob", "bob@example.com")
	err = env.engine.RegisterPasskey(testCtx(), trusted, PasskeyRegistration{
		CredentialID: auth.CredentialID,
		PublicKey:    auth.PublicKey,
		Algorithm:    passkey.AlgRS256,
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected mismatched algorithm to be rejected, got %v", err)
	}
}

func TestRequirePasskeyPolicy(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Session.RequirePasskey = true
	})
	trusted := env.verifiedUser(t, "alice", "alice@example.com")
	auth := env.registerPasskey(t, trusted, passkey.AlgES256)

	info, err := env.engine.ValidateSession(testCtx(), trusted)
	if err != nil {
		t.Fatalf("ValidateSession failed: %v", err)
	}
	if info.Next != session.StepNone {
		t.Fatalf("registering session should stay trusted, got %s", info.Next)
	}

	login, err := env.engine.Login(testCtx(), LoginRequest{Identifier: "alice", Password: testPassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if login.Next != session.StepPasskey {
		t.Fatalf("expected passkey step, got %s", login.Next)
	}

	res, err := env.passkeyLogin(t, "alice", auth)
	if err != nil {
		t.Fatalf("LoginWithPasskey failed: %v", err)
	}
	if res.Next != session.StepNone {
		t.Fatalf("expected StepNone, got %s", res.Next)
	}
}

func TestBeginPasskeyLoginRateLimited(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Buckets.PasskeyChallenge = BucketConfig{Max: 1, Interval: 2 * time.Second}
	})

	if _, err := env.engine.BeginPasskeyLogin(testCtx()); err != nil {
		t.Fatalf("BeginPasskeyLogin failed: %v", err)
	}
	if _, err := env.engine.BeginPasskeyLogin(testCtx()); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}
