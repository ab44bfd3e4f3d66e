// Package session defines the session identity produced by sign-in and the
// codec that turns it into a signed, self-contained token.
//
// # Kinds
//
// A session is either [KindLocal] (password credentials) or [KindExternal]
// (an assertion from an OAuth provider). External sessions carry the
// provider name and the provider's stable subject id.
//
// # Architecture boundaries
//
// This package owns [Identity] and [Codec]. It keeps no state: a token is
// the whole session, and nothing is written to storage when one is issued.
//
// # What this package must NOT do
//
//   - Import authcore or identity (no upward imports).
//   - Look up accounts or re-provision external identities.
//   - Place password hashes or other secrets into token claims.
package session
