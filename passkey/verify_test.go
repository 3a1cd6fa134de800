package passkey_test

import (
	"errors"
	"testing"

	"github.com/MrEthical07/authcore/passkey"
	"github.com/MrEthical07/authcore/passkey/passkeytest"
)

const (
	testRPID   = "auth.example.com"
	testOrigin = "https://auth.example.com"
)

func newVerifier(t *testing.T) *passkey.Verifier {
	t.Helper()
	v, err := passkey.NewVerifier(testRPID, testOrigin)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

func TestVerifyAcceptsEachAlgorithm(t *testing.T) {
	v := newVerifier(t)
	challenge := []byte("0123456789abcdef0123456789abcdef")

	for _, alg := range []int{passkey.AlgES256, passkey.AlgEdDSA, passkey.AlgRS256} {
		auth := passkeytest.New(alg)
		a := auth.Assert(challenge, testRPID, testOrigin)

		count, err := v.Verify(a, auth.Credential(), challenge)
		if err != nil {
			t.Fatalf("alg %d: Verify: %v", alg, err)
		}
		if count != 1 {
			t.Fatalf("alg %d: sign count = %d, want 1", alg, count)
		}
	}
}

func TestVerifyFailsClosed(t *testing.T) {
	v := newVerifier(t)
	challenge := []byte("issued-challenge-issued-challenge")

	cases := []struct {
		name   string
		mutate func(*passkeytest.Authenticator) (passkey.Assertion, passkey.Credential, []byte)
	}{
		{"wrong challenge", func(a *passkeytest.Authenticator) (passkey.Assertion, passkey.Credential, []byte) {
			return a.Assert([]byte("another-challenge"), testRPID, testOrigin), a.Credential(), challenge
		}},
		{"empty expected challenge", func(a *passkeytest.Authenticator) (passkey.Assertion, passkey.Credential, []byte) {
			return a.Assert(nil, testRPID, testOrigin), a.Credential(), nil
		}},
		{"wrong origin", func(a *passkeytest.Authenticator) (passkey.Assertion, passkey.Credential, []byte) {
			return a.Assert(challenge, testRPID, "https://evil.example"), a.Credential(), challenge
		}},
		{"wrong rp id", func(a *passkeytest.Authenticator) (passkey.Assertion, passkey.Credential, []byte) {
			return a.Assert(challenge, "evil.example", testOrigin), a.Credential(), challenge
		}},
		{"create type", func(a *passkeytest.Authenticator) (passkey.Assertion, passkey.Credential, []byte) {
			return a.AssertType("webauthn.create", challenge, testRPID, testOrigin), a.Credential(), challenge
		}},
		{"user not present", func(a *passkeytest.Authenticator) (passkey.Assertion, passkey.Credential, []byte) {
			a.UserPresent = false
			return a.Assert(challenge, testRPID, testOrigin), a.Credential(), challenge
		}},
		{"tampered signature", func(a *passkeytest.Authenticator) (passkey.Assertion, passkey.Credential, []byte) {
			as := a.Assert(challenge, testRPID, testOrigin)
			as.Signature[len(as.Signature)-1] ^= 0xff
			return as, a.Credential(), challenge
		}},
		{"tampered client data", func(a *passkeytest.Authenticator) (passkey.Assertion, passkey.Credential, []byte) {
			as := a.Assert(challenge, testRPID, testOrigin)
			as.ClientDataJSON = append(as.ClientDataJSON[:len(as.ClientDataJSON)-1], ' ', '}')
			return as, a.Credential(), challenge
		}},
		{"other key", func(a *passkeytest.Authenticator) (passkey.Assertion, passkey.Credential, []byte) {
			other := passkeytest.New(passkey.AlgES256)
			return a.Assert(challenge, testRPID, testOrigin), other.Credential(), challenge
		}},
		{"sign count replay", func(a *passkeytest.Authenticator) (passkey.Assertion, passkey.Credential, []byte) {
			as := a.Assert(challenge, testRPID, testOrigin)
			cred := a.Credential()
			cred.SignCount = a.SignCount
			return as, cred, challenge
		}},
		{"garbage client data", func(a *passkeytest.Authenticator) (passkey.Assertion, passkey.Credential, []byte) {
			as := a.Assert(challenge, testRPID, testOrigin)
			as.ClientDataJSON = []byte("{not json")
			return as, a.Credential(), challenge
		}},
		{"short authenticator data", func(a *passkeytest.Authenticator) (passkey.Assertion, passkey.Credential, []byte) {
			as := a.Assert(challenge, testRPID, testOrigin)
			as.AuthenticatorData = as.AuthenticatorData[:20]
			return as, a.Credential(), challenge
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, cred, want := tc.mutate(passkeytest.New(passkey.AlgES256))
			if _, err := v.Verify(a, cred, want); !errors.Is(err, passkey.ErrInvalidAssertion) {
				t.Fatalf("err = %v, want ErrInvalidAssertion", err)
			}
		})
	}
}

func TestVerifyAllowsZeroCounterAuthenticators(t *testing.T) {
	v := newVerifier(t)
	challenge := []byte("zero-counter-challenge-zero-counter")
	auth := passkeytest.New(passkey.AlgEdDSA)
	auth.SignCount = ^uint32(0) // wraps to 0 on the next Assert

	a := auth.Assert(challenge, testRPID, testOrigin)
	count, err := v.Verify(a, auth.Credential(), challenge)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0", count)
	}
}

func TestParsePublicKeyRejectsMismatchedAlgorithm(t *testing.T) {
	auth := passkeytest.New(passkey.AlgEdDSA)

	if _, err := passkey.ParsePublicKey(auth.PublicKey, passkey.AlgES256); !errors.Is(err, passkey.ErrInvalidPublicKey) {
		t.Fatalf("err = %v, want ErrInvalidPublicKey", err)
	}
	if _, err := passkey.ParsePublicKey(auth.PublicKey, 42); !errors.Is(err, passkey.ErrUnsupportedAlgorithm) {
		t.Fatalf("err = %v, want ErrUnsupportedAlgorithm", err)
	}
	if _, err := passkey.ParsePublicKey([]byte("junk"), passkey.AlgEdDSA); !errors.Is(err, passkey.ErrInvalidPublicKey) {
		t.Fatalf("err = %v, want ErrInvalidPublicKey", err)
	}
}

func TestNewVerifierValidation(t *testing.T) {
	if _, err := passkey.NewVerifier("", testOrigin); err == nil {
		t.Fatal("expected error for empty rp id")
	}
	if _, err := passkey.NewVerifier(testRPID); err == nil {
		t.Fatal("expected error without origins")
	}
}
