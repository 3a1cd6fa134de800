// Package password implements password hashing, verification and the
// strength policy applied to new passwords.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// The Argon2id parameters have a floor (19 MiB, t=2, p=1, 32-byte key).
// [NewArgon2] refuses weaker configs and [Argon2.Verify] refuses hashes
// encoded with weaker parameters.
//
// # Strength
//
// [Policy] checks length and, optionally, a breach [Corpus] such as
// [HIBPCorpus]. A corpus that cannot answer yields [ErrCorpusUnavailable];
// the engine rejects the password in that case.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other authcore package.
//   - Log plaintext passwords.
package password
