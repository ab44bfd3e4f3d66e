// Package identity defines the account record and the storage contract the
// authentication flows depend on.
//
// Two implementations ship with the module: [MemoryStore] for tests and
// development, and the PostgreSQL store in identity/postgres.
//
// # Invariants
//
//   - Email is unique across records.
//   - An external provider id, when present, is unique per provider.
//   - Records are never physically deleted.
package identity
