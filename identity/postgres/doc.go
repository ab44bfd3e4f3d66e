// Package postgres implements identity.Store on PostgreSQL via pgx, with the
// schema shipped as embedded golang-migrate migrations.
//
// Unique violations on email or on the (provider, external id) pair surface
// as identity.ErrConflict; missing rows surface as identity.ErrNotFound.
// Both are wrapped in oops errors carrying an IDENTITY_* code.
package postgres
