// Package passkey issues WebAuthn login challenges and verifies assertions.
//
// Challenges live in Redis under a short TTL and are removed by the read
// that consumes them. Verification checks the client data, the relying
// party hash, the user-present flag, the signature and the sign counter,
// and fails closed: any parse error is an invalid assertion.
//
// Attestation is not verified. Registration accepts a PKIX public key for
// ES256, EdDSA or RS256 from an already trusted session.
package passkey
