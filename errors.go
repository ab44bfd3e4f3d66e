package authcore

import "errors"

var (
	// ErrMissingFields is returned when a required input is empty or whitespace.
	ErrMissingFields = errors.New("missing required fields")
	// ErrInvalidPassword is returned before any side effect for a password the hasher would refuse.
	ErrInvalidPassword = errors.New("password not acceptable")
	// ErrAlreadyRegistered is returned by RequestCode for an email that already has an identity.
	ErrAlreadyRegistered = errors.New("email already registered")
	// ErrDispatch is returned when a code or reset link could not be delivered.
	ErrDispatch = errors.New("notification dispatch failed")
	// ErrInvalidOrExpiredCode is returned when no live code matches (email, code).
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")
	// ErrPersistence is returned when a consumed code or verified reset could not be written.
	ErrPersistence = errors.New("identity persistence failed")
	// ErrUserNotFound is returned by password reset for an unknown email.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidOrExpiredToken is returned when no live reset token matches (email, token).
	ErrInvalidOrExpiredToken = errors.New("invalid or expired reset token")
	// ErrNoSuchAccount is returned by SignIn when no identity with a password exists.
	ErrNoSuchAccount = errors.New("no such account")
	// ErrInvalidCredentials is returned by SignIn on a password mismatch.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrProvisioning is returned when an external identity could not be found or created.
	ErrProvisioning = errors.New("identity provisioning failed")
	// ErrStoreUnavailable is returned when the credential or identity store cannot be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrSessionInvalid is returned for session tokens that fail verification or have expired.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrEngineNotReady is returned when the Engine is used without its collaborators.
	ErrEngineNotReady = errors.New("engine not initialized")
)
