// Package password implements password hashing and verification with Argon2id.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// bcrypt hashes ($2a$, $2b$, $2y$) are accepted by [Hasher.Verify] and always
// reported by [Hasher.NeedsUpgrade], so the caller can rehash them on the
// next successful sign-in.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Enforce password policy beyond non-empty input.
//   - Log plaintext passwords.
package password
