package flows

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/codicle/authcore/identity"
	"github.com/codicle/authcore/notify"
)

// ResetRequest is the input of the reset completion step.
type ResetRequest struct {
	Email       string
	Token       string
	NewPassword string
}

type PasswordResetMetrics struct {
	PasswordResetRequest        int
	PasswordResetRequestFailure int
	PasswordResetConfirmSuccess int
	PasswordResetConfirmFailure int
}

type PasswordResetEvents struct {
	PasswordResetRequest string
	PasswordResetConfirm string
}

type PasswordResetErrors struct {
	EngineNotReady        error
	MissingFields         error
	InvalidPassword       error
	UserNotFound          error
	Dispatch              error
	InvalidOrExpiredToken error
	Persistence           error
	StoreUnavailable      error
}

// PasswordResetDeps captures password reset flow dependencies.
type PasswordResetDeps struct {
	TokenTTL time.Duration
	ResetURL string
	Logger   *slog.Logger

	FindIdentityByEmail func(context.Context, string) (identity.Identity, error)
	HashPassword        func(string) (string, error)
	ValidatePassword    func(string) error
	UpdatePasswordHash  func(context.Context, string, string) error

	GenerateToken   func() (string, error)
	SaveToken       func(context.Context, string, string, time.Duration) error
	FindToken       func(context.Context, string, string) error
	DeleteToken     func(context.Context, string, string) error
	IsTokenNotFound func(error) bool
	IsTokenExpired  func(error) bool

	Send func(context.Context, notify.Message) error

	MetricInc func(int)
	EmitAudit func(context.Context, string, bool, string, error, func() map[string]string)

	Metrics PasswordResetMetrics
	Events  PasswordResetEvents
	Errors  PasswordResetErrors
}

// RunRequestPasswordReset stores a reset token for a registered email and
// sends a link carrying it. Unknown emails fail with UserNotFound and leave
// no token behind.
func RunRequestPasswordReset(ctx context.Context, email string, deps PasswordResetDeps) error {
	normalizePasswordResetDeps(&deps)

	if deps.FindIdentityByEmail == nil || deps.GenerateToken == nil || deps.SaveToken == nil || deps.Send == nil {
		return deps.Errors.EngineNotReady
	}

	email = strings.TrimSpace(email)
	if email == "" {
		deps.MetricInc(deps.Metrics.PasswordResetRequestFailure)
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, "", deps.Errors.MissingFields, nil)
		return deps.Errors.MissingFields
	}

	user, err := deps.FindIdentityByEmail(ctx, email)
	if err != nil {
		deps.MetricInc(deps.Metrics.PasswordResetRequestFailure)
		if errors.Is(err, identity.ErrNotFound) {
			deps.Logger.InfoContext(ctx, "password reset refused", "flow", "password_reset", "email", email, "reason", "unknown_email")
			deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, "", deps.Errors.UserNotFound, func() map[string]string {
				return map[string]string{"email": email}
			})
			return deps.Errors.UserNotFound
		}
		deps.Logger.ErrorContext(ctx, "identity lookup failed", "flow", "password_reset", "email", email, "error", err)
		return errors.Join(deps.Errors.StoreUnavailable, err)
	}

	token, err := deps.GenerateToken()
	if err != nil {
		deps.MetricInc(deps.Metrics.PasswordResetRequestFailure)
		return errors.Join(deps.Errors.EngineNotReady, err)
	}

	if err := deps.SaveToken(ctx, email, token, deps.TokenTTL); err != nil {
		deps.MetricInc(deps.Metrics.PasswordResetRequestFailure)
		deps.Logger.ErrorContext(ctx, "reset token not stored", "flow", "password_reset", "email", email, "error", err)
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, user.ID, deps.Errors.StoreUnavailable, func() map[string]string {
			return map[string]string{"email": email, "reason": "store"}
		})
		return errors.Join(deps.Errors.StoreUnavailable, err)
	}

	msg, err := notify.PasswordResetMessage(email, ResetLink(deps.ResetURL, token, email), deps.TokenTTL)
	if err == nil {
		err = deps.Send(ctx, msg)
	}
	if err != nil {
		deps.MetricInc(deps.Metrics.PasswordResetRequestFailure)
		deps.Logger.WarnContext(ctx, "reset link not delivered", "flow", "password_reset", "email", email, "reason", "dispatch", "error", err)
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, user.ID, deps.Errors.Dispatch, func() map[string]string {
			return map[string]string{"email": email, "reason": "dispatch"}
		})
		return errors.Join(deps.Errors.Dispatch, err)
	}

	deps.MetricInc(deps.Metrics.PasswordResetRequest)
	deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, true, user.ID, nil, func() map[string]string {
		return map[string]string{"email": email}
	})
	return nil
}

// RunCompletePasswordReset overwrites the password hash of the identity a
// valid token was issued for. The token is deleted only after the new hash
// is written, so a failed write leaves it usable.
func RunCompletePasswordReset(ctx context.Context, req ResetRequest, deps PasswordResetDeps) error {
	normalizePasswordResetDeps(&deps)

	if deps.FindToken == nil || deps.DeleteToken == nil || deps.FindIdentityByEmail == nil || deps.HashPassword == nil || deps.UpdatePasswordHash == nil {
		return deps.Errors.EngineNotReady
	}

	email := strings.TrimSpace(req.Email)
	token := strings.TrimSpace(req.Token)
	if blank(req.Email, req.Token, req.NewPassword) {
		deps.MetricInc(deps.Metrics.PasswordResetConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, false, "", deps.Errors.MissingFields, nil)
		return deps.Errors.MissingFields
	}
	if err := deps.ValidatePassword(req.NewPassword); err != nil {
		deps.MetricInc(deps.Metrics.PasswordResetConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, false, "", deps.Errors.InvalidPassword, func() map[string]string {
			return map[string]string{"email": email, "reason": "password"}
		})
		return errors.Join(deps.Errors.InvalidPassword, err)
	}

	if err := deps.FindToken(ctx, email, token); err != nil {
		deps.MetricInc(deps.Metrics.PasswordResetConfirmFailure)
		if !deps.IsTokenNotFound(err) && !deps.IsTokenExpired(err) {
			deps.Logger.ErrorContext(ctx, "reset token lookup failed", "flow", "password_reset", "email", email, "error", err)
			return errors.Join(deps.Errors.StoreUnavailable, err)
		}
		reason := "unknown"
		if deps.IsTokenExpired(err) {
			reason = "expired"
		}
		deps.Logger.InfoContext(ctx, "reset token rejected", "flow", "password_reset", "email", email, "reason", reason)
		deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, false, "", deps.Errors.InvalidOrExpiredToken, func() map[string]string {
			return map[string]string{"email": email, "reason": reason}
		})
		return deps.Errors.InvalidOrExpiredToken
	}

	user, err := deps.FindIdentityByEmail(ctx, email)
	if err != nil {
		deps.MetricInc(deps.Metrics.PasswordResetConfirmFailure)
		if errors.Is(err, identity.ErrNotFound) {
			deps.Logger.WarnContext(ctx, "identity vanished before reset completed", "flow", "password_reset", "email", email, "reason", "identity_gone")
			deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, false, "", deps.Errors.UserNotFound, func() map[string]string {
				return map[string]string{"email": email}
			})
			return deps.Errors.UserNotFound
		}
		return errors.Join(deps.Errors.StoreUnavailable, err)
	}

	hash, err := deps.HashPassword(req.NewPassword)
	if err != nil {
		deps.MetricInc(deps.Metrics.PasswordResetConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, false, user.ID, deps.Errors.Persistence, func() map[string]string {
			return map[string]string{"reason": "hash"}
		})
		return errors.Join(deps.Errors.Persistence, err)
	}

	if err := deps.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		deps.MetricInc(deps.Metrics.PasswordResetConfirmFailure)
		deps.Logger.ErrorContext(ctx, "password hash not written, token kept", "flow", "password_reset", "email", email, "reason", "update", "error", err)
		deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, false, user.ID, deps.Errors.Persistence, func() map[string]string {
			return map[string]string{"reason": "update_hash_failed"}
		})
		return errors.Join(deps.Errors.Persistence, err)
	}

	if err := deps.DeleteToken(ctx, email, token); err != nil {
		deps.Logger.WarnContext(ctx, "reset token not deleted after password change", "flow", "password_reset", "email", email, "reason", "token_delete", "error", err)
	}

	deps.MetricInc(deps.Metrics.PasswordResetConfirmSuccess)
	deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, true, user.ID, nil, nil)
	return nil
}

// ResetLink appends the token and email to base as query parameters,
// keeping any query base already carries.
func ResetLink(base, token, email string) string {
	u, err := url.Parse(base)
	if err != nil {
		q := url.Values{"token": {token}, "email": {email}}
		return base + "?" + q.Encode()
	}
	q := u.Query()
	q.Set("token", token)
	q.Set("email", email)
	u.RawQuery = q.Encode()
	return u.String()
}

func normalizePasswordResetDeps(deps *PasswordResetDeps) {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, error, func() map[string]string) {}
	}
	if deps.ValidatePassword == nil {
		deps.ValidatePassword = func(string) error { return nil }
	}
	if deps.IsTokenNotFound == nil {
		deps.IsTokenNotFound = func(error) bool { return false }
	}
	if deps.IsTokenExpired == nil {
		deps.IsTokenExpired = func(error) bool { return false }
	}
}
