// Package internal contains helper utilities that are private to authcore:
// one-time code generation, reset token generation and secret digests used
// to key short-lived records.
//
// # Sub-packages
//
//   - audit - async event dispatch (Dispatcher + Sink implementations)
//   - config - YAML/flag configuration loading for cmd/authcore
//   - flows - flow orchestrators for every Engine operation
//   - security - startup configuration warnings
//   - stores - Redis-backed OTP and reset token records
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
//   - Log or return plaintext codes beyond the caller that requested them.
package internal
