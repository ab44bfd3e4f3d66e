package authcore

import (
	"context"
	"errors"

	internalflows "github.com/codicle/authcore/internal/flows"
	"github.com/codicle/authcore/session"
)

// SignIn checks email and password and returns a local session identity.
//
// SignIn returns ErrNoSuchAccount when no identity with a password exists
// for the email, ErrInvalidCredentials on a mismatch and ErrStoreUnavailable
// when the identity store cannot be read.
func (e *Engine) SignIn(ctx context.Context, creds Credentials) (session.Identity, error) {
	if e == nil {
		return session.Identity{}, ErrEngineNotReady
	}
	return internalflows.RunSignIn(ctx, creds, e.flows.Session)
}

// SignInExternal resolves a provider assertion to an identity, creating one
// on first sight, and returns an external session identity. Concurrent
// first sign-ins for one email produce a single identity.
func (e *Engine) SignInExternal(ctx context.Context, assertion ExternalAssertion) (session.Identity, error) {
	if e == nil {
		return session.Identity{}, ErrEngineNotReady
	}
	return internalflows.RunSignInExternal(ctx, assertion, e.flows.Session)
}

// IssueToken signs id into a session token valid for Session.TTL.
func (e *Engine) IssueToken(id session.Identity) (session.Token, error) {
	if e == nil || e.sessions == nil {
		return session.Token{}, ErrEngineNotReady
	}
	tok, err := e.sessions.Encode(id)
	if err != nil {
		return session.Token{}, err
	}
	e.metricInc(MetricSessionIssued)
	return tok, nil
}

// VerifyToken decodes a session token without reissuing it.
func (e *Engine) VerifyToken(token string) (session.Identity, error) {
	if e == nil || e.sessions == nil {
		return session.Identity{}, ErrEngineNotReady
	}
	id, err := e.sessions.Decode(token)
	if err != nil {
		return session.Identity{}, errors.Join(ErrSessionInvalid, err)
	}
	return id, nil
}

// Refresh verifies a session token and issues a fresh one.
//
// Local sessions are rebuilt from the token alone. External sessions run
// first-seen provisioning again, recreating an identity deleted since the
// token was issued. Invalid or expired tokens yield ErrSessionInvalid.
func (e *Engine) Refresh(ctx context.Context, token string) (session.Token, session.Identity, error) {
	if e == nil {
		return session.Token{}, session.Identity{}, ErrEngineNotReady
	}
	return internalflows.RunRefresh(ctx, token, e.flows.Session)
}

func (e *Engine) sessionFlowDeps() internalflows.SessionDeps {
	return internalflows.SessionDeps{
		UpgradeOnLogin: e.config.Password.UpgradeOnLogin,
		Logger:         e.logger,

		FindIdentityByEmail: e.identities.FindByEmail,
		CreateIdentity:      e.identities.Create,
		LinkExternal:        e.identities.LinkExternal,
		UpdatePasswordHash:  e.identities.UpdatePasswordHash,

		VerifyPassword: e.passwordHash.Verify,
		NeedsUpgrade:   e.passwordHash.NeedsUpgrade,
		HashPassword:   e.hashPassword,

		EncodeSession: e.sessions.Encode,
		DecodeSession: e.sessions.Decode,

		MetricInc: e.metricIncFlow,
		EmitAudit: e.emitAudit,

		Metrics: internalflows.SessionMetrics{
			SignInSuccess:         int(MetricSignInSuccess),
			SignInFailure:         int(MetricSignInFailure),
			SignInExternalSuccess: int(MetricSignInExternalSuccess),
			SignInExternalFailure: int(MetricSignInExternalFailure),
			IdentityProvisioned:   int(MetricIdentityProvisioned),
			PasswordRehashed:      int(MetricPasswordRehashed),
			RefreshSuccess:        int(MetricRefreshSuccess),
			RefreshFailure:        int(MetricRefreshFailure),
		},
		Events: internalflows.SessionEvents{
			SignInLocal:         auditEventSignInLocal,
			SignInExternal:      auditEventSignInExternal,
			SessionRefresh:      auditEventSessionRefresh,
			IdentityProvisioned: auditEventIdentityProvisioned,
		},
		Errors: internalflows.SessionErrors{
			EngineNotReady:     ErrEngineNotReady,
			MissingFields:      ErrMissingFields,
			NoSuchAccount:      ErrNoSuchAccount,
			InvalidCredentials: ErrInvalidCredentials,
			Provisioning:       ErrProvisioning,
			SessionInvalid:     ErrSessionInvalid,
			StoreUnavailable:   ErrStoreUnavailable,
		},
	}
}
