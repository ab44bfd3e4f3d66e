// Package middleware adapts session tokens to net/http.
//
//   - [Session] refreshes the bearer token on every request and returns the
//     new one in [HeaderSessionToken]. [SessionWithFailure] lets an API
//     write its own rejection body.
//   - [RequireToken] verifies the bearer token without reissuing it.
//
// Both place the principal in the request context; read it back with
// [IdentityFromContext]. Token decisions are delegated to the Engine.
package middleware
