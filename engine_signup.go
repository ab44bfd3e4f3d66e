package authcore

import (
	"context"
	"errors"

	"github.com/codicle/authcore/identity"
	"github.com/codicle/authcore/internal"
	internalflows "github.com/codicle/authcore/internal/flows"
	"github.com/codicle/authcore/internal/stores"
	"github.com/codicle/authcore/password"
)

// RequestCode issues a one-time code for an unregistered email and sends it.
//
// RequestCode returns ErrMissingFields, ErrInvalidPassword,
// ErrAlreadyRegistered (no code is issued), ErrStoreUnavailable or
// ErrDispatch. After ErrDispatch the code is still stored; calling
// RequestCode again issues an additional code.
func (e *Engine) RequestCode(ctx context.Context, req SignupRequest) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return internalflows.RunRequestCode(ctx, req, e.flows.Signup)
}

// VerifyCode consumes the code and creates the identity.
//
// A code is accepted at most once. ErrInvalidOrExpiredCode covers wrong,
// expired and already-used codes alike. ErrPersistence means the code was
// consumed but the identity could not be written. ErrInvalidPassword is
// reported before the code is touched.
func (e *Engine) VerifyCode(ctx context.Context, req VerifyRequest) (identity.Identity, error) {
	if e == nil {
		return identity.Identity{}, ErrEngineNotReady
	}
	return internalflows.RunVerifyCode(ctx, req, e.flows.Signup)
}

func (e *Engine) signupFlowDeps() internalflows.SignupDeps {
	return internalflows.SignupDeps{
		OTPDigits: e.config.Signup.OTPDigits,
		OTPTTL:    e.config.Signup.OTPTTL,
		Logger:    e.logger,

		FindIdentityByEmail: e.identities.FindByEmail,
		CreateIdentity:      e.identities.Create,
		HashPassword:        e.hashPassword,
		ValidatePassword:    password.Validate,

		GenerateCode: internal.NewOTP,
		SaveCode:     e.codes.Save,
		ConsumeCode: func(ctx context.Context, email, code string) error {
			_, err := e.codes.Consume(ctx, email, code)
			return err
		},
		OutstandingCodes: e.codes.Outstanding,
		IsCodeNotFound: func(err error) bool {
			return errors.Is(err, stores.ErrRecordNotFound)
		},
		IsCodeExpired: func(err error) bool {
			return errors.Is(err, stores.ErrRecordExpired)
		},

		Send: e.send,

		MetricInc: e.metricIncFlow,
		EmitAudit: e.emitAudit,

		Metrics: internalflows.SignupMetrics{
			CodeRequested:      int(MetricSignupCodeRequested),
			CodeRequestFailure: int(MetricSignupCodeRequestFailure),
			CodeVerified:       int(MetricSignupCodeVerified),
			CodeVerifyFailure:  int(MetricSignupCodeVerifyFailure),
		},
		Events: internalflows.SignupEvents{
			CodeRequest: auditEventSignupCodeRequest,
			CodeVerify:  auditEventSignupCodeVerify,
		},
		Errors: internalflows.SignupErrors{
			EngineNotReady:       ErrEngineNotReady,
			InvalidPassword:      ErrInvalidPassword,
			MissingFields:        ErrMissingFields,
			AlreadyRegistered:    ErrAlreadyRegistered,
			Dispatch:             ErrDispatch,
			InvalidOrExpiredCode: ErrInvalidOrExpiredCode,
			Persistence:          ErrPersistence,
			StoreUnavailable:     ErrStoreUnavailable,
		},
	}
}
