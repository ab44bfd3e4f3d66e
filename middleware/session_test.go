package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/codicle/authcore"
	"github.com/codicle/authcore/session"
)

type fakeEngine struct {
	calls int
	err   error
}

func (f *fakeEngine) Refresh(_ context.Context, token string) (authcore.SessionToken, authcore.SessionIdentity, error) {
	f.calls++
	if f.err != nil {
		return authcore.SessionToken{}, authcore.SessionIdentity{}, f.err
	}
	return authcore.SessionToken{Value: token + ".next", ExpiresAt: time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)},
		session.Local("u1", "Ann", "a@x.com"), nil
}

func (f *fakeEngine) VerifyToken(token string) (authcore.SessionIdentity, error) {
	f.calls++
	if f.err != nil {
		return authcore.SessionIdentity{}, f.err
	}
	return session.External("u2", "Bob", "b@x.com", "github", "42"), nil
}

func echoSubject(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Error("expected identity in context")
		}
		_, _ = w.Write([]byte(id.Subject))
	})
}

func TestSessionRefreshesEveryRequest(t *testing.T) {
	eng := &fakeEngine{}
	h := Session(eng)(echoSubject(t))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer tok")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if rec.Body.String() != "u1" {
			t.Fatalf("unexpected subject %q", rec.Body.String())
		}
		if got := rec.Header().Get(HeaderSessionToken); got != "tok.next" {
			t.Fatalf("unexpected reissued token %q", got)
		}
		if got := rec.Header().Get(HeaderSessionExpires); got != "2030-01-02T03:04:05Z" {
			t.Fatalf("unexpected expiry %q", got)
		}
	}
	if eng.calls != 2 {
		t.Fatalf("expected a refresh per request, got %d", eng.calls)
	}
}

func TestSessionRejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
		err    error
	}{
		{name: "missing header"},
		{name: "wrong scheme", header: "Basic abc"},
		{name: "empty token", header: "Bearer  "},
		{name: "refresh fails", header: "Bearer tok", err: authcore.ErrSessionInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Session(&fakeEngine{err: tt.err})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatal("handler must not run")
			}))
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if rec.Header().Get(HeaderSessionToken) != "" {
				t.Fatal("no token may be issued on rejection")
			}
		})
	}
}

func TestSessionNilRefresher(t *testing.T) {
	h := Session(nil)(echoSubject(t))
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSessionWithFailureReceivesCause(t *testing.T) {
	storeDown := errors.Join(authcore.ErrStoreUnavailable, errors.New("dial tcp: refused"))
	tests := []struct {
		name   string
		header string
		err    error
		want   error
	}{
		{name: "missing header", want: authcore.ErrSessionInvalid},
		{name: "refresh fails", header: "Bearer tok", err: storeDown, want: authcore.ErrStoreUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got error
			fail := func(w http.ResponseWriter, _ *http.Request, err error) {
				got = err
				w.WriteHeader(http.StatusTeapot)
			}
			h := SessionWithFailure(&fakeEngine{err: tt.err}, fail)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatal("handler must not run")
			}))
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusTeapot {
				t.Fatalf("expected the failure writer to answer, got %d", rec.Code)
			}
			if !errors.Is(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRequireTokenDoesNotReissue(t *testing.T) {
	h := RequireToken(&fakeEngine{})(echoSubject(t))
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "bearer tok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "u2" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(HeaderSessionToken) != "" {
		t.Fatal("RequireToken must not reissue")
	}

	h = RequireToken(&fakeEngine{err: errors.New("bad")})(echoSubject(t))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
