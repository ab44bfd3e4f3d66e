// Package stores provides Redis-backed, short-lived credential records for
// the signup and password reset flows.
//
// # Design
//
// Each store persists a versioned, binary-encoded record in Redis with a
// TTL. Keys are derived from SHA-256 digests of the email and the secret, so
// neither plaintext codes nor tokens are stored at rest. Reads check the
// record's own expiry in addition to the Redis TTL; an expired record is
// never handed back as valid. OTP consumption is a single Lua script that
// finds and deletes in one step.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for transient
// records. It does NOT generate codes or tokens or decide flow outcomes.
// Those responsibilities belong to internal/flows.
//
// # What this package must NOT do
//
//   - Import authcore or any sibling internal package.
//   - Log or expose plaintext secrets.
package stores
