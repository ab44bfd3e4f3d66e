package flows

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/codicle/authcore/identity"
	"github.com/codicle/authcore/notify"
)

// SignupRequest is the input of the code request step.
type SignupRequest struct {
	Email    string
	Name     string
	Password string
}

// VerifyRequest is the input of the code verification step. Name and
// Password are resubmitted by the caller; nothing from the request step is
// held server-side besides the code record.
type VerifyRequest struct {
	Email    string
	Code     string
	Name     string
	Password string
}

type SignupMetrics struct {
	CodeRequested      int
	CodeRequestFailure int
	CodeVerified       int
	CodeVerifyFailure  int
}

type SignupEvents struct {
	CodeRequest string
	CodeVerify  string
}

type SignupErrors struct {
	EngineNotReady       error
	MissingFields        error
	InvalidPassword      error
	AlreadyRegistered    error
	Dispatch             error
	InvalidOrExpiredCode error
	Persistence          error
	StoreUnavailable     error
}

// SignupDeps captures signup flow dependencies.
type SignupDeps struct {
	OTPDigits int
	OTPTTL    time.Duration
	Logger    *slog.Logger

	FindIdentityByEmail func(context.Context, string) (identity.Identity, error)
	CreateIdentity      func(context.Context, identity.NewIdentity) (identity.Identity, error)
	HashPassword        func(string) (string, error)
	ValidatePassword    func(string) error

	GenerateCode     func(int) (string, error)
	SaveCode         func(context.Context, string, string, time.Duration) error
	ConsumeCode      func(context.Context, string, string) error
	OutstandingCodes func(context.Context, string) (int, error)
	IsCodeNotFound   func(error) bool
	IsCodeExpired    func(error) bool

	Send func(context.Context, notify.Message) error

	MetricInc func(int)
	EmitAudit func(context.Context, string, bool, string, error, func() map[string]string)

	Metrics SignupMetrics
	Events  SignupEvents
	Errors  SignupErrors
}

// RunRequestCode issues a signup code for an unregistered email and sends
// it. A dispatch failure leaves the code record in place; the caller may
// request again, which issues an additional code.
func RunRequestCode(ctx context.Context, req SignupRequest, deps SignupDeps) error {
	normalizeSignupDeps(&deps)

	if deps.FindIdentityByEmail == nil || deps.GenerateCode == nil || deps.SaveCode == nil || deps.Send == nil {
		return deps.Errors.EngineNotReady
	}

	email := strings.TrimSpace(req.Email)
	if blank(req.Email, req.Name, req.Password) {
		deps.MetricInc(deps.Metrics.CodeRequestFailure)
		deps.EmitAudit(ctx, deps.Events.CodeRequest, false, "", deps.Errors.MissingFields, nil)
		return deps.Errors.MissingFields
	}
	if err := deps.ValidatePassword(req.Password); err != nil {
		deps.MetricInc(deps.Metrics.CodeRequestFailure)
		deps.EmitAudit(ctx, deps.Events.CodeRequest, false, "", deps.Errors.InvalidPassword, func() map[string]string {
			return map[string]string{"email": email, "reason": "password"}
		})
		return errors.Join(deps.Errors.InvalidPassword, err)
	}

	existing, err := deps.FindIdentityByEmail(ctx, email)
	switch {
	case err == nil:
		deps.MetricInc(deps.Metrics.CodeRequestFailure)
		deps.Logger.InfoContext(ctx, "signup code refused", "flow", "signup", "email", email, "reason", "already_registered")
		deps.EmitAudit(ctx, deps.Events.CodeRequest, false, existing.ID, deps.Errors.AlreadyRegistered, func() map[string]string {
			return map[string]string{"email": email}
		})
		return deps.Errors.AlreadyRegistered
	case !errors.Is(err, identity.ErrNotFound):
		deps.MetricInc(deps.Metrics.CodeRequestFailure)
		deps.Logger.ErrorContext(ctx, "identity lookup failed", "flow", "signup", "email", email, "error", err)
		return errors.Join(deps.Errors.StoreUnavailable, err)
	}

	code, err := deps.GenerateCode(deps.OTPDigits)
	if err != nil {
		deps.MetricInc(deps.Metrics.CodeRequestFailure)
		return errors.Join(deps.Errors.EngineNotReady, err)
	}

	if err := deps.SaveCode(ctx, email, code, deps.OTPTTL); err != nil {
		deps.MetricInc(deps.Metrics.CodeRequestFailure)
		deps.Logger.ErrorContext(ctx, "signup code not stored", "flow", "signup", "email", email, "error", err)
		deps.EmitAudit(ctx, deps.Events.CodeRequest, false, "", deps.Errors.StoreUnavailable, func() map[string]string {
			return map[string]string{"email": email, "reason": "store"}
		})
		return errors.Join(deps.Errors.StoreUnavailable, err)
	}

	msg, err := notify.SignupCodeMessage(email, code, deps.OTPTTL)
	if err == nil {
		err = deps.Send(ctx, msg)
	}
	if err != nil {
		deps.MetricInc(deps.Metrics.CodeRequestFailure)
		deps.Logger.WarnContext(ctx, "signup code not delivered", "flow", "signup", "email", email, "reason", "dispatch", "error", err)
		deps.EmitAudit(ctx, deps.Events.CodeRequest, false, "", deps.Errors.Dispatch, func() map[string]string {
			return map[string]string{"email": email, "reason": "dispatch"}
		})
		return errors.Join(deps.Errors.Dispatch, err)
	}

	deps.MetricInc(deps.Metrics.CodeRequested)
	deps.EmitAudit(ctx, deps.Events.CodeRequest, true, "", nil, func() map[string]string {
		return map[string]string{"email": email}
	})
	return nil
}

// RunVerifyCode consumes a matching code and materializes the identity.
// Once the code is consumed, any later failure is reported as Persistence
// rather than as an invalid code, because the code cannot be used again.
func RunVerifyCode(ctx context.Context, req VerifyRequest, deps SignupDeps) (identity.Identity, error) {
	normalizeSignupDeps(&deps)

	if deps.ConsumeCode == nil || deps.HashPassword == nil || deps.CreateIdentity == nil {
		return identity.Identity{}, deps.Errors.EngineNotReady
	}

	email := strings.TrimSpace(req.Email)
	code := strings.TrimSpace(req.Code)
	if blank(req.Email, req.Code, req.Name, req.Password) {
		deps.MetricInc(deps.Metrics.CodeVerifyFailure)
		deps.EmitAudit(ctx, deps.Events.CodeVerify, false, "", deps.Errors.MissingFields, nil)
		return identity.Identity{}, deps.Errors.MissingFields
	}
	if err := deps.ValidatePassword(req.Password); err != nil {
		deps.MetricInc(deps.Metrics.CodeVerifyFailure)
		deps.EmitAudit(ctx, deps.Events.CodeVerify, false, "", deps.Errors.InvalidPassword, func() map[string]string {
			return map[string]string{"email": email, "reason": "password"}
		})
		return identity.Identity{}, errors.Join(deps.Errors.InvalidPassword, err)
	}

	if err := deps.ConsumeCode(ctx, email, code); err != nil {
		deps.MetricInc(deps.Metrics.CodeVerifyFailure)
		if !deps.IsCodeNotFound(err) && !deps.IsCodeExpired(err) {
			deps.Logger.ErrorContext(ctx, "signup code consume failed", "flow", "signup", "email", email, "error", err)
			deps.EmitAudit(ctx, deps.Events.CodeVerify, false, "", deps.Errors.StoreUnavailable, func() map[string]string {
				return map[string]string{"email": email, "reason": "store"}
			})
			return identity.Identity{}, errors.Join(deps.Errors.StoreUnavailable, err)
		}

		reason := codeMissReason(ctx, email, err, deps)
		deps.Logger.InfoContext(ctx, "signup code rejected", "flow", "signup", "email", email, "reason", reason)
		deps.EmitAudit(ctx, deps.Events.CodeVerify, false, "", deps.Errors.InvalidOrExpiredCode, func() map[string]string {
			return map[string]string{"email": email, "reason": reason}
		})
		return identity.Identity{}, deps.Errors.InvalidOrExpiredCode
	}

	hash, err := deps.HashPassword(req.Password)
	if err != nil {
		deps.MetricInc(deps.Metrics.CodeVerifyFailure)
		deps.Logger.ErrorContext(ctx, "code consumed but password hash failed", "flow", "signup", "email", email, "reason", "hash", "error", err)
		deps.EmitAudit(ctx, deps.Events.CodeVerify, false, "", deps.Errors.Persistence, func() map[string]string {
			return map[string]string{"email": email, "reason": "hash"}
		})
		return identity.Identity{}, errors.Join(deps.Errors.Persistence, err)
	}

	created, err := deps.CreateIdentity(ctx, identity.NewIdentity{
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
	})
	if err != nil {
		deps.MetricInc(deps.Metrics.CodeVerifyFailure)
		deps.Logger.ErrorContext(ctx, "code consumed but identity not created", "flow", "signup", "email", email, "reason", "create", "error", err)
		deps.EmitAudit(ctx, deps.Events.CodeVerify, false, "", deps.Errors.Persistence, func() map[string]string {
			return map[string]string{"email": email, "reason": "create"}
		})
		return identity.Identity{}, errors.Join(deps.Errors.Persistence, err)
	}

	deps.MetricInc(deps.Metrics.CodeVerified)
	deps.EmitAudit(ctx, deps.Events.CodeVerify, true, created.ID, nil, func() map[string]string {
		return map[string]string{"email": email}
	})
	return created, nil
}

// codeMissReason tells expired, wrong and never-issued codes apart for
// operator logs. Callers only ever see InvalidOrExpiredCode.
func codeMissReason(ctx context.Context, email string, err error, deps SignupDeps) string {
	if deps.IsCodeExpired(err) {
		return "expired"
	}
	if deps.OutstandingCodes == nil {
		return "unknown"
	}
	n, countErr := deps.OutstandingCodes(ctx, email)
	if countErr == nil && n > 0 {
		return "mismatch"
	}
	return "unknown"
}

func normalizeSignupDeps(deps *SignupDeps) {
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
	if deps.IsCodeNotFound == nil {
		deps.IsCodeNotFound = func(error) bool { return false }
	}
	if deps.IsCodeExpired == nil {
		deps.IsCodeExpired = func(error) bool { return false }
	}
}

func blank(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}
