// Package passkeytest provides a software authenticator for tests.
package passkeytest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/MrEthical07/authcore/passkey"
)

// Authenticator signs assertions with an in-memory key.
type Authenticator struct {
	CredentialID string
	Algorithm    int
	PublicKey    []byte
	SignCount    uint32

	// UserPresent is cleared to simulate a silent authenticator.
	UserPresent bool

	signer crypto.Signer
}

// New returns an authenticator for alg (passkey.AlgES256, AlgEdDSA or
// AlgRS256). It panics on unsupported algorithms.
func New(alg int) *Authenticator {
	var (
		signer crypto.Signer
		err    error
	)
	switch alg {
	case passkey.AlgES256:
		signer, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case passkey.AlgEdDSA:
		_, signer, err = ed25519.GenerateKey(rand.Reader)
	case passkey.AlgRS256:
		signer, err = rsa.GenerateKey(rand.Reader, 2048)
	default:
		panic("passkeytest: unsupported algorithm")
	}
	if err != nil {
		panic(err)
	}

	der, err := x509.MarshalPKIXPublicKey(signer.Public())
	if err != nil {
		panic(err)
	}

	return &Authenticator{
		CredentialID: base64.RawURLEncoding.EncodeToString([]byte(uuid.NewString())),
		Algorithm:    alg,
		PublicKey:    der,
		UserPresent:  true,
		signer:       signer,
	}
}

// Credential returns the stored form of the key.
func (a *Authenticator) Credential() passkey.Credential {
	return passkey.Credential{PublicKey: a.PublicKey, Algorithm: a.Algorithm}
}

// Assert signs challenge for rpID and origin and bumps the sign count.
func (a *Authenticator) Assert(challenge []byte, rpID, origin string) passkey.Assertion {
	return a.AssertType("webauthn.get", challenge, rpID, origin)
}

// AssertType is Assert with an explicit client data type.
func (a *Authenticator) AssertType(typ string, challenge []byte, rpID, origin string) passkey.Assertion {
	a.SignCount++

	clientDataJSON, err := json.Marshal(map[string]string{
		"type":      typ,
		"challenge": base64.RawURLEncoding.EncodeToString(challenge),
		"origin":    origin,
	})
	if err != nil {
		panic(err)
	}

	rpHash := sha256.Sum256([]byte(rpID))
	authData := make([]byte, 37)
	copy(authData, rpHash[:])
	if a.UserPresent {
		authData[32] = 0x01
	}
	binary.BigEndian.PutUint32(authData[33:], a.SignCount)

	clientHash := sha256.Sum256(clientDataJSON)
	signed := append(append([]byte{}, authData...), clientHash[:]...)

	var sig []byte
	switch a.Algorithm {
	case passkey.AlgEdDSA:
		sig, err = a.signer.Sign(rand.Reader, signed, crypto.Hash(0))
	default:
		digest := sha256.Sum256(signed)
		sig, err = a.signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	}
	if err != nil {
		panic(err)
	}

	return passkey.Assertion{
		CredentialID:      a.CredentialID,
		AuthenticatorData: authData,
		ClientDataJSON:    clientDataJSON,
		Signature:         sig,
	}
}
