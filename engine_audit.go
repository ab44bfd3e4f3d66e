package authcore

import (
	"context"
	"errors"

	"github.com/codicle/authcore/internal/audit"
)

const (
	auditEventSignupCodeRequest     = "signup_code_request"
	auditEventSignupCodeVerify      = "signup_code_verify"
	auditEventPasswordResetRequest  = "password_reset_request"
	auditEventPasswordResetComplete = "password_reset_complete"
	auditEventSignInLocal           = "sign_in_local"
	auditEventSignInExternal        = "sign_in_external"
	auditEventSessionRefresh        = "session_refresh"
	auditEventIdentityProvisioned   = "identity_provisioned"
	auditEventProfileUpdate         = "profile_update"
	auditEventFollow                = "follow"
	auditEventUnfollow              = "unfollow"
)

// AuditErrorCode is the stable error label written into audit events.
type AuditErrorCode string

const (
	auditErrMissingFields      AuditErrorCode = "missing_fields"
	auditErrInvalidPassword    AuditErrorCode = "invalid_password"
	auditErrAlreadyRegistered  AuditErrorCode = "already_registered"
	auditErrDispatch           AuditErrorCode = "dispatch_failed"
	auditErrInvalidCode        AuditErrorCode = "invalid_code"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrPersistence        AuditErrorCode = "persistence_failed"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrNoSuchAccount      AuditErrorCode = "no_such_account"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrProvisioning       AuditErrorCode = "provisioning_failed"
	auditErrSessionInvalid     AuditErrorCode = "session_invalid"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := audit.Event{
		EventType: eventType,
		UserID:    userID,
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

// enrichAuditEvent copies the request id and client address the transport
// placed in ctx.
func enrichAuditEvent(ctx context.Context, ev *audit.Event) {
	if ev.RequestID == "" {
		ev.RequestID = RequestIDFromContext(ctx)
	}
	if ev.IP == "" {
		ev.IP = clientIPFromContext(ctx)
	}
}

func (e *Engine) auditSinkPanicked(ev audit.Event, r any) {
	e.logger.Error("audit sink panicked", "event_type", ev.EventType, "panic", r)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrMissingFields):
		return auditErrMissingFields
	case errors.Is(err, ErrInvalidPassword):
		return auditErrInvalidPassword
	case errors.Is(err, ErrAlreadyRegistered):
		return auditErrAlreadyRegistered
	case errors.Is(err, ErrDispatch):
		return auditErrDispatch
	case errors.Is(err, ErrInvalidOrExpiredCode):
		return auditErrInvalidCode
	case errors.Is(err, ErrInvalidOrExpiredToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrPersistence):
		return auditErrPersistence
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrNoSuchAccount):
		return auditErrNoSuchAccount
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrProvisioning):
		return auditErrProvisioning
	case errors.Is(err, ErrSessionInvalid):
		return auditErrSessionInvalid
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrEngineNotReady):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
