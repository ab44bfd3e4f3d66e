// Package jwt signs and verifies session tokens. Tokens carry the identity
// id as subject plus name, email and the session kind, and are checked for
// algorithm, signature, expiry, issuer and audience on every parse.
package jwt
