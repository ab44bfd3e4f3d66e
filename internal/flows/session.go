package flows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codicle/authcore/identity"
	"github.com/codicle/authcore/session"
)

// Credentials is the input of a local sign-in. AfterSignup marks the
// sign-in that immediately follows a successful code verification; it only
// affects audit metadata.
type Credentials struct {
	Email       string
	Password    string
	AfterSignup bool
}

// ExternalAssertion is an identity vouched for by an external provider
// after its own handshake. The core trusts it as given.
type ExternalAssertion struct {
	Provider   string
	ExternalID string
	Email      string
	Name       string
	AvatarURL  string
}

type SessionMetrics struct {
	SignInSuccess         int
	SignInFailure         int
	SignInExternalSuccess int
	SignInExternalFailure int
	IdentityProvisioned   int
	PasswordRehashed      int
	RefreshSuccess        int
	RefreshFailure        int
}

type SessionEvents struct {
	SignInLocal         string
	SignInExternal      string
	SessionRefresh      string
	IdentityProvisioned string
}

type SessionErrors struct {
	EngineNotReady     error
	MissingFields      error
	NoSuchAccount      error
	InvalidCredentials error
	Provisioning       error
	SessionInvalid     error
	StoreUnavailable   error
}

// SessionDeps captures sign-in and refresh flow dependencies.
type SessionDeps struct {
	UpgradeOnLogin bool
	Logger         *slog.Logger

	FindIdentityByEmail func(context.Context, string) (identity.Identity, error)
	CreateIdentity      func(context.Context, identity.NewIdentity) (identity.Identity, error)
	LinkExternal        func(context.Context, string, string, string) error
	UpdatePasswordHash  func(context.Context, string, string) error

	VerifyPassword func(string, string) (bool, error)
	NeedsUpgrade   func(string) (bool, error)
	HashPassword   func(string) (string, error)

	EncodeSession func(session.Identity) (session.Token, error)
	DecodeSession func(string) (session.Identity, error)

	MetricInc func(int)
	EmitAudit func(context.Context, string, bool, string, error, func() map[string]string)

	Metrics SessionMetrics
	Events  SessionEvents
	Errors  SessionErrors
}

// RunSignIn checks local credentials and returns a local session identity.
func RunSignIn(ctx context.Context, creds Credentials, deps SessionDeps) (session.Identity, error) {
	normalizeSessionDeps(&deps)

	if deps.FindIdentityByEmail == nil || deps.VerifyPassword == nil {
		return session.Identity{}, deps.Errors.EngineNotReady
	}

	email := strings.TrimSpace(creds.Email)
	if blank(creds.Email, creds.Password) {
		deps.MetricInc(deps.Metrics.SignInFailure)
		deps.EmitAudit(ctx, deps.Events.SignInLocal, false, "", deps.Errors.MissingFields, nil)
		return session.Identity{}, deps.Errors.MissingFields
	}

	rec, err := deps.FindIdentityByEmail(ctx, email)
	if err != nil && !errors.Is(err, identity.ErrNotFound) {
		deps.MetricInc(deps.Metrics.SignInFailure)
		deps.Logger.ErrorContext(ctx, "identity lookup failed", "flow", "sign_in", "email", email, "error", err)
		deps.EmitAudit(ctx, deps.Events.SignInLocal, false, "", deps.Errors.StoreUnavailable, func() map[string]string {
			return map[string]string{"email": email, "reason": "store"}
		})
		return session.Identity{}, errors.Join(deps.Errors.StoreUnavailable, err)
	}
	if err != nil || !rec.HasPassword() {
		reason := "unknown_email"
		if err == nil {
			reason = "no_password"
		}
		deps.MetricInc(deps.Metrics.SignInFailure)
		deps.Logger.InfoContext(ctx, "sign-in refused", "flow", "sign_in", "email", email, "reason", reason)
		deps.EmitAudit(ctx, deps.Events.SignInLocal, false, rec.ID, deps.Errors.NoSuchAccount, func() map[string]string {
			return map[string]string{"email": email, "reason": reason}
		})
		return session.Identity{}, deps.Errors.NoSuchAccount
	}

	ok, err := deps.VerifyPassword(creds.Password, rec.PasswordHash)
	if err != nil {
		deps.Logger.ErrorContext(ctx, "stored password hash unusable", "flow", "sign_in", "email", email, "error", err)
	}
	if !ok {
		deps.MetricInc(deps.Metrics.SignInFailure)
		deps.EmitAudit(ctx, deps.Events.SignInLocal, false, rec.ID, deps.Errors.InvalidCredentials, func() map[string]string {
			return map[string]string{"email": email, "reason": "password_mismatch"}
		})
		return session.Identity{}, deps.Errors.InvalidCredentials
	}

	if deps.UpgradeOnLogin {
		upgradePasswordHash(ctx, rec, creds.Password, deps)
	}

	deps.MetricInc(deps.Metrics.SignInSuccess)
	deps.EmitAudit(ctx, deps.Events.SignInLocal, true, rec.ID, nil, func() map[string]string {
		if creds.AfterSignup {
			return map[string]string{"after_signup": "true"}
		}
		return nil
	})
	return session.Local(rec.ID, rec.Name, rec.Email), nil
}

// RunSignInExternal resolves an external assertion to an identity,
// provisioning one on first sight, and returns an external session identity.
func RunSignInExternal(ctx context.Context, assertion ExternalAssertion, deps SessionDeps) (session.Identity, error) {
	normalizeSessionDeps(&deps)

	if deps.FindIdentityByEmail == nil || deps.CreateIdentity == nil {
		return session.Identity{}, deps.Errors.EngineNotReady
	}

	id, err := resolveExternal(ctx, assertion, deps)
	if err != nil {
		deps.MetricInc(deps.Metrics.SignInExternalFailure)
		deps.EmitAudit(ctx, deps.Events.SignInExternal, false, "", err, func() map[string]string {
			return map[string]string{"provider": assertion.Provider}
		})
		return session.Identity{}, err
	}

	deps.MetricInc(deps.Metrics.SignInExternalSuccess)
	deps.EmitAudit(ctx, deps.Events.SignInExternal, true, id.Subject, nil, func() map[string]string {
		return map[string]string{"provider": id.Provider}
	})
	return id, nil
}

// RunRefresh verifies a session token and reissues it. Local sessions are
// rebuilt from the token's claims alone. External sessions go through
// first-seen provisioning again, so an identity removed since the last
// request is recreated.
func RunRefresh(ctx context.Context, token string, deps SessionDeps) (session.Token, session.Identity, error) {
	normalizeSessionDeps(&deps)

	if deps.DecodeSession == nil || deps.EncodeSession == nil {
		return session.Token{}, session.Identity{}, deps.Errors.EngineNotReady
	}

	prev, err := deps.DecodeSession(token)
	if err != nil {
		deps.MetricInc(deps.Metrics.RefreshFailure)
		deps.EmitAudit(ctx, deps.Events.SessionRefresh, false, "", deps.Errors.SessionInvalid, func() map[string]string {
			return map[string]string{"reason": "decode"}
		})
		return session.Token{}, session.Identity{}, errors.Join(deps.Errors.SessionInvalid, err)
	}

	var next session.Identity
	switch prev.Kind {
	case session.KindLocal:
		next = session.Local(prev.Subject, prev.Name, prev.Email)
	case session.KindExternal:
		if deps.FindIdentityByEmail == nil || deps.CreateIdentity == nil {
			return session.Token{}, session.Identity{}, deps.Errors.EngineNotReady
		}
		next, err = resolveExternal(ctx, ExternalAssertion{
			Provider:   prev.Provider,
			ExternalID: prev.ExternalID,
			Email:      prev.Email,
			Name:       prev.Name,
		}, deps)
		if err != nil {
			deps.MetricInc(deps.Metrics.RefreshFailure)
			deps.EmitAudit(ctx, deps.Events.SessionRefresh, false, prev.Subject, err, func() map[string]string {
				return map[string]string{"kind": prev.Kind.String()}
			})
			return session.Token{}, session.Identity{}, err
		}
	default:
		deps.MetricInc(deps.Metrics.RefreshFailure)
		return session.Token{}, session.Identity{}, deps.Errors.SessionInvalid
	}

	issued, err := deps.EncodeSession(next)
	if err != nil {
		deps.MetricInc(deps.Metrics.RefreshFailure)
		return session.Token{}, session.Identity{}, fmt.Errorf("issue session token: %w", err)
	}
	next.ExpiresAt = issued.ExpiresAt

	deps.MetricInc(deps.Metrics.RefreshSuccess)
	deps.EmitAudit(ctx, deps.Events.SessionRefresh, true, next.Subject, nil, func() map[string]string {
		return map[string]string{"kind": next.Kind.String()}
	})
	return issued, next, nil
}

// resolveExternal is the idempotent first-seen provisioning step shared by
// external sign-in and refresh.
func resolveExternal(ctx context.Context, a ExternalAssertion, deps SessionDeps) (session.Identity, error) {
	email := strings.TrimSpace(a.Email)
	provider := strings.TrimSpace(a.Provider)
	externalID := strings.TrimSpace(a.ExternalID)
	if email == "" || provider == "" || externalID == "" {
		return session.Identity{}, deps.Errors.MissingFields
	}

	rec, err := deps.FindIdentityByEmail(ctx, email)
	switch {
	case err == nil:
		if !rec.HasExternal() && deps.LinkExternal != nil {
			if linkErr := deps.LinkExternal(ctx, rec.ID, provider, externalID); linkErr != nil {
				deps.Logger.WarnContext(ctx, "external link not recorded", "flow", "sign_in_external", "email", email, "reason", "link", "error", linkErr)
			}
		}
	case errors.Is(err, identity.ErrNotFound):
		rec, err = deps.CreateIdentity(ctx, identity.NewIdentity{
			Email:            email,
			Name:             strings.TrimSpace(a.Name),
			ExternalProvider: provider,
			ExternalID:       externalID,
			AvatarURL:        strings.TrimSpace(a.AvatarURL),
		})
		if errors.Is(err, identity.ErrConflict) {
			// Lost a race with a concurrent first sign-in.
			rec, err = deps.FindIdentityByEmail(ctx, email)
		} else if err == nil {
			deps.MetricInc(deps.Metrics.IdentityProvisioned)
			deps.EmitAudit(ctx, deps.Events.IdentityProvisioned, true, rec.ID, nil, func() map[string]string {
				return map[string]string{"provider": provider}
			})
		}
		if err != nil {
			deps.Logger.ErrorContext(ctx, "external identity not provisioned", "flow", "sign_in_external", "email", email, "reason", "create", "error", err)
			return session.Identity{}, errors.Join(deps.Errors.Provisioning, err)
		}
	default:
		deps.Logger.ErrorContext(ctx, "identity lookup failed", "flow", "sign_in_external", "email", email, "error", err)
		return session.Identity{}, errors.Join(deps.Errors.Provisioning, err)
	}

	return session.External(rec.ID, rec.Name, rec.Email, provider, externalID), nil
}

func upgradePasswordHash(ctx context.Context, rec identity.Identity, password string, deps SessionDeps) {
	if deps.NeedsUpgrade == nil || deps.HashPassword == nil || deps.UpdatePasswordHash == nil {
		return
	}
	upgrade, err := deps.NeedsUpgrade(rec.PasswordHash)
	if err != nil || !upgrade {
		return
	}
	hash, err := deps.HashPassword(password)
	if err != nil {
		deps.Logger.WarnContext(ctx, "password rehash failed", "flow", "sign_in", "email", rec.Email, "reason", "hash", "error", err)
		return
	}
	if err := deps.UpdatePasswordHash(ctx, rec.ID, hash); err != nil {
		deps.Logger.WarnContext(ctx, "password rehash not stored", "flow", "sign_in", "email", rec.Email, "reason", "update", "error", err)
		return
	}
	deps.MetricInc(deps.Metrics.PasswordRehashed)
}

func normalizeSessionDeps(deps *SessionDeps) {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, error, func() map[string]string) {}
	}
}
