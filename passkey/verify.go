package passkey

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// COSE algorithm identifiers.
const (
	AlgES256 = -7
	AlgEdDSA = -8
	AlgRS256 = -257
)

const (
	flagUserPresent = 0x01

	authDataMinLength = 37
	clientDataTypeGet = "webauthn.get"
)

var (
	// ErrInvalidAssertion covers every reason an assertion is refused.
	ErrInvalidAssertion     = errors.New("invalid passkey assertion")
	ErrUnsupportedAlgorithm = errors.New("unsupported passkey algorithm")
	ErrInvalidPublicKey     = errors.New("invalid passkey public key")
)

// Assertion is what the browser returns from navigator.credentials.get.
type Assertion struct {
	CredentialID      string
	AuthenticatorData []byte
	ClientDataJSON    []byte
	Signature         []byte
}

// Credential is the stored half of a passkey.
type Credential struct {
	PublicKey []byte
	Algorithm int
	SignCount uint32
}

type clientData struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Origin    string `json:"origin"`
}

// Verifier checks assertions for one relying party.
type Verifier struct {
	rpIDHash [32]byte
	origins  map[string]struct{}
}

func NewVerifier(rpID string, origins ...string) (*Verifier, error) {
	if rpID == "" {
		return nil, errors.New("passkey rp id is required")
	}
	if len(origins) == 0 {
		return nil, errors.New("passkey needs at least one allowed origin")
	}

	v := &Verifier{
		rpIDHash: sha256.Sum256([]byte(rpID)),
		origins:  make(map[string]struct{}, len(origins)),
	}
	for _, o := range origins {
		v.origins[strings.TrimRight(o, "/")] = struct{}{}
	}
	return v, nil
}

// Verify checks a against cred and the challenge that was issued for it and
// returns the authenticator's new sign count. Any failure is reported as
// ErrInvalidAssertion.
func (v *Verifier) Verify(a Assertion, cred Credential, challenge []byte) (uint32, error) {
	var cd clientData
	if err := json.Unmarshal(a.ClientDataJSON, &cd); err != nil {
		return 0, fmt.Errorf("%w: client data: %v", ErrInvalidAssertion, err)
	}
	if cd.Type != clientDataTypeGet {
		return 0, fmt.Errorf("%w: client data type %q", ErrInvalidAssertion, cd.Type)
	}

	got, err := decodeBase64URL(cd.Challenge)
	if err != nil || len(challenge) == 0 || subtle.ConstantTimeCompare(got, challenge) != 1 {
		return 0, fmt.Errorf("%w: challenge mismatch", ErrInvalidAssertion)
	}
	if _, ok := v.origins[strings.TrimRight(cd.Origin, "/")]; !ok {
		return 0, fmt.Errorf("%w: origin %q not allowed", ErrInvalidAssertion, cd.Origin)
	}

	ad := a.AuthenticatorData
	if len(ad) < authDataMinLength {
		return 0, fmt.Errorf("%w: authenticator data too short", ErrInvalidAssertion)
	}
	if subtle.ConstantTimeCompare(ad[:32], v.rpIDHash[:]) != 1 {
		return 0, fmt.Errorf("%w: rp id hash mismatch", ErrInvalidAssertion)
	}
	if ad[32]&flagUserPresent == 0 {
		return 0, fmt.Errorf("%w: user not present", ErrInvalidAssertion)
	}
	signCount := binary.BigEndian.Uint32(ad[33:37])

	clientHash := sha256.Sum256(a.ClientDataJSON)
	signed := make([]byte, 0, len(ad)+len(clientHash))
	signed = append(signed, ad...)
	signed = append(signed, clientHash[:]...)

	if err := verifySignature(cred, signed, a.Signature); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAssertion, err)
	}

	// Authenticators without a counter always report zero.
	if (signCount != 0 || cred.SignCount != 0) && signCount <= cred.SignCount {
		return 0, fmt.Errorf("%w: sign count did not advance", ErrInvalidAssertion)
	}
	return signCount, nil
}

// ParsePublicKey checks that der is a PKIX public key usable with alg.
func ParsePublicKey(der []byte, alg int) (crypto.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	switch alg {
	case AlgES256:
		if k, ok := pub.(*ecdsa.PublicKey); ok && k.Curve.Params().Name == "P-256" {
			return k, nil
		}
	case AlgEdDSA:
		if k, ok := pub.(ed25519.PublicKey); ok {
			return k, nil
		}
	case AlgRS256:
		if k, ok := pub.(*rsa.PublicKey); ok && k.N.BitLen() >= 2048 {
			return k, nil
		}
	default:
		return nil, ErrUnsupportedAlgorithm
	}
	return nil, fmt.Errorf("%w: key does not match algorithm %d", ErrInvalidPublicKey, alg)
}

func verifySignature(cred Credential, signed, sig []byte) error {
	pub, err := ParsePublicKey(cred.PublicKey, cred.Algorithm)
	if err != nil {
		return err
	}

	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		digest := sha256.Sum256(signed)
		if !ecdsa.VerifyASN1(k, digest[:], sig) {
			return errors.New("bad ecdsa signature")
		}
	case ed25519.PublicKey:
		if !ed25519.Verify(k, signed, sig) {
			return errors.New("bad ed25519 signature")
		}
	case *rsa.PublicKey:
		digest := sha256.Sum256(signed)
		if err := rsa.VerifyPKCS1v15(k, crypto.SHA256, digest[:], sig); err != nil {
			return err
		}
	}
	return nil
}

func decodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
