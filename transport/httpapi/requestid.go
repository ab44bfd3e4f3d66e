package httpapi

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/codicle/authcore"
)

// HeaderRequestID is echoed on every response.
const HeaderRequestID = "X-Request-Id"

// requestContext puts a request id and the client address in the request
// context so audit events carry them. An incoming id is kept when it is a
// well-formed UUID; anything else is replaced.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)

		ctx := authcore.WithRequestID(r.Context(), id)
		ctx = authcore.WithClientIP(ctx, clientIP(r.RemoteAddr))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
