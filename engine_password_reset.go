package authcore

import (
	"context"
	"errors"

	"github.com/codicle/authcore/internal"
	internalflows "github.com/codicle/authcore/internal/flows"
	"github.com/codicle/authcore/internal/stores"
	"github.com/codicle/authcore/password"
)

// RequestReset stores a reset token for a registered email and sends a link
// carrying it.
//
// RequestReset returns ErrMissingFields, ErrUserNotFound (no token is
// created), ErrStoreUnavailable or ErrDispatch.
func (e *Engine) RequestReset(ctx context.Context, email string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return internalflows.RunRequestPasswordReset(ctx, email, e.flows.PasswordReset)
}

// CompleteReset replaces the password of the identity the token was issued
// for, then deletes the token.
//
// CompleteReset returns ErrInvalidOrExpiredToken for unknown or expired
// tokens, ErrInvalidPassword before the token is looked up, and
// ErrPersistence when the new hash could not be written, in which case the
// token remains valid.
func (e *Engine) CompleteReset(ctx context.Context, req ResetRequest) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return internalflows.RunCompletePasswordReset(ctx, req, e.flows.PasswordReset)
}

func (e *Engine) passwordResetFlowDeps() internalflows.PasswordResetDeps {
	return internalflows.PasswordResetDeps{
		TokenTTL: e.config.PasswordReset.TokenTTL,
		ResetURL: e.config.PasswordReset.ResetURL,
		Logger:   e.logger,

		FindIdentityByEmail: e.identities.FindByEmail,
		HashPassword:        e.hashPassword,
		ValidatePassword:    password.Validate,
		UpdatePasswordHash:  e.identities.UpdatePasswordHash,

		GenerateToken: internal.NewResetToken,
		SaveToken:     e.resetTokens.Save,
		FindToken: func(ctx context.Context, email, token string) error {
			_, err := e.resetTokens.Find(ctx, email, token)
			return err
		},
		DeleteToken: func(ctx context.Context, email, token string) error {
			_, err := e.resetTokens.Delete(ctx, email, token)
			return err
		},
		IsTokenNotFound: func(err error) bool {
			return errors.Is(err, stores.ErrRecordNotFound)
		},
		IsTokenExpired: func(err error) bool {
			return errors.Is(err, stores.ErrRecordExpired)
		},

		Send: e.send,

		MetricInc: e.metricIncFlow,
		EmitAudit: e.emitAudit,

		Metrics: internalflows.PasswordResetMetrics{
			PasswordResetRequest:        int(MetricPasswordResetRequest),
			PasswordResetRequestFailure: int(MetricPasswordResetRequestFailure),
			PasswordResetConfirmSuccess: int(MetricPasswordResetConfirmSuccess),
			PasswordResetConfirmFailure: int(MetricPasswordResetConfirmFailure),
		},
		Events: internalflows.PasswordResetEvents{
			PasswordResetRequest: auditEventPasswordResetRequest,
			PasswordResetConfirm: auditEventPasswordResetComplete,
		},
		Errors: internalflows.PasswordResetErrors{
			EngineNotReady:        ErrEngineNotReady,
			InvalidPassword:       ErrInvalidPassword,
			MissingFields:         ErrMissingFields,
			UserNotFound:          ErrUserNotFound,
			Dispatch:              ErrDispatch,
			InvalidOrExpiredToken: ErrInvalidOrExpiredToken,
			Persistence:           ErrPersistence,
			StoreUnavailable:      ErrStoreUnavailable,
		},
	}
}
