package httpapi

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/codicle/authcore"
	"github.com/codicle/authcore/identity"
	"github.com/codicle/authcore/middleware"
)

// Service is the Engine surface the API calls. *authcore.Engine
// implements it.
type Service interface {
	RequestCode(ctx context.Context, req authcore.SignupRequest) error
	VerifyCode(ctx context.Context, req authcore.VerifyRequest) (identity.Identity, error)
	RequestReset(ctx context.Context, email string) error
	CompleteReset(ctx context.Context, req authcore.ResetRequest) error
	SignIn(ctx context.Context, creds authcore.Credentials) (authcore.SessionIdentity, error)
	SignInExternal(ctx context.Context, assertion authcore.ExternalAssertion) (authcore.SessionIdentity, error)
	IssueToken(id authcore.SessionIdentity) (authcore.SessionToken, error)
	Refresh(ctx context.Context, token string) (authcore.SessionToken, authcore.SessionIdentity, error)
	Identity(ctx context.Context, id string) (identity.Identity, error)
	UpdateProfile(ctx context.Context, id string, update authcore.ProfileUpdate) (identity.Identity, error)
	Follow(ctx context.Context, followerID, followeeID string) error
	Unfollow(ctx context.Context, followerID, followeeID string) error
}

// Options tune the router.
type Options struct {
	Logger *slog.Logger
	// ExternalSecret guards POST /session/external. The route is only
	// mounted when it is set; the provider bridge sends it in
	// HeaderExternalSecret after finishing its own handshake.
	ExternalSecret string
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	TrustProxy bool
	// Metrics, when set, is mounted at GET /metrics.
	Metrics http.Handler
	Timeout time.Duration
}

// HeaderExternalSecret carries Options.ExternalSecret.
const HeaderExternalSecret = "X-Provider-Secret"

type api struct {
	svc    Service
	logger *slog.Logger
}

// NewRouter builds the HTTP surface over svc.
func NewRouter(svc Service, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	a := &api{svc: svc, logger: opts.Logger}

	r := chi.NewRouter()
	if opts.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(requestContext)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(opts.Timeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Post("/signup/code", a.requestCode)
	r.Post("/signup/verify", a.verifyCode)
	r.Post("/password/forgot", a.requestReset)
	r.Post("/password/reset", a.completeReset)
	r.Post("/session", a.signIn)
	r.Post("/session/refresh", a.refresh)
	if opts.ExternalSecret != "" {
		r.With(requireSecret(opts.ExternalSecret)).Post("/session/external", a.signInExternal)
	}

	r.Route("/me", func(r chi.Router) {
		r.Use(middleware.SessionWithFailure(svc, a.sessionRejected))
		r.Get("/", a.me)
		r.Patch("/", a.updateProfile)
		r.Put("/following/{id}", a.follow)
		r.Delete("/following/{id}", a.unfollow)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})
	return r
}

func requireSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(HeaderExternalSecret)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				writeError(w, r, http.StatusForbidden, "FORBIDDEN", "provider secret mismatch")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// sessionRejected answers /me requests without a usable session in the
// same envelope as every other route.
func (a *api) sessionRejected(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="authcore"`)
	a.fail(w, r, "session", err)
}

// fail writes the public mapping of err. Server-side failures are logged
// with their cause; the client only sees the mapped message.
func (a *api) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code, message := mapError(op, err)
	if status >= http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "request failed", "op", op, "code", code, "request_id", authcore.RequestIDFromContext(r.Context()), "error", err)
	}
	writeError(w, r, status, code, message)
}
