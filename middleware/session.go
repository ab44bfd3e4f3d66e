package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/codicle/authcore"
)

// Header names carrying the reissued token on every authenticated response.
const (
	HeaderSessionToken   = "X-Session-Token"
	HeaderSessionExpires = "X-Session-Expires"
)

// Refresher reissues a session token. *authcore.Engine implements it.
type Refresher interface {
	Refresh(ctx context.Context, token string) (authcore.SessionToken, authcore.SessionIdentity, error)
}

// Verifier checks a session token without reissuing it. *authcore.Engine
// implements it.
type Verifier interface {
	VerifyToken(token string) (authcore.SessionIdentity, error)
}

type identityContextKey struct{}

// IdentityFromContext returns the principal placed by Session or RequireToken.
func IdentityFromContext(ctx context.Context) (authcore.SessionIdentity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(authcore.SessionIdentity)
	return id, ok
}

// WithIdentity stores id in ctx as Session would.
func WithIdentity(ctx context.Context, id authcore.SessionIdentity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// FailureFunc writes the response for a request Session turned away. err
// is authcore.ErrSessionInvalid when no usable bearer token was sent,
// and is the Refresher's error otherwise.
type FailureFunc func(w http.ResponseWriter, r *http.Request, err error)

// Session refreshes the bearer token on every request. The reissued token
// is set on the response headers before the wrapped handler runs, and the
// refreshed identity is placed in the request context. Rejected requests
// get a plain-text 401.
func Session(r Refresher) func(http.Handler) http.Handler {
	return SessionWithFailure(r, nil)
}

// SessionWithFailure is Session with a caller-supplied rejection writer,
// for APIs that answer every error in their own body format. A nil fail
// behaves like Session.
func SessionWithFailure(r Refresher, fail FailureFunc) func(http.Handler) http.Handler {
	if fail == nil {
		fail = func(w http.ResponseWriter, _ *http.Request, _ error) { unauthorized(w) }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if r == nil {
				fail(w, req, authcore.ErrEngineNotReady)
				return
			}

			token, ok := bearerToken(req.Header.Get("Authorization"))
			if !ok {
				fail(w, req, authcore.ErrSessionInvalid)
				return
			}

			issued, id, err := r.Refresh(req.Context(), token)
			if err != nil {
				fail(w, req, err)
				return
			}

			w.Header().Set(HeaderSessionToken, issued.Value)
			w.Header().Set(HeaderSessionExpires, issued.ExpiresAt.UTC().Format(time.RFC3339))
			next.ServeHTTP(w, req.WithContext(WithIdentity(req.Context(), id)))
		})
	}
}

// RequireToken only verifies the bearer token. Nothing is reissued and no
// store is touched.
func RequireToken(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if v == nil {
				unauthorized(w)
				return
			}

			token, ok := bearerToken(req.Header.Get("Authorization"))
			if !ok {
				unauthorized(w)
				return
			}

			id, err := v.VerifyToken(token)
			if err != nil {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, req.WithContext(WithIdentity(req.Context(), id)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="authcore"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
