package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/codicle/authcore"
)

type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
	Meta    meta      `json:"meta"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// errorMapping is the public face of an Engine sentinel.
type errorMapping struct {
	err     error
	status  int
	code    string
	message string
}

// Order matters: the first sentinel matched by errors.Is wins, and flows
// join a sentinel with the collaborator cause.
var errorMappings = []errorMapping{
	{authcore.ErrMissingFields, http.StatusBadRequest, "MISSING_FIELDS", "required fields are missing"},
	{authcore.ErrInvalidPassword, http.StatusBadRequest, "INVALID_PASSWORD", "the password is empty or too long"},
	{authcore.ErrAlreadyRegistered, http.StatusConflict, "ALREADY_REGISTERED", "an account with this email already exists"},
	{authcore.ErrInvalidOrExpiredCode, http.StatusBadRequest, "INVALID_OR_EXPIRED_CODE", "the code is invalid or has expired"},
	{authcore.ErrInvalidOrExpiredToken, http.StatusBadRequest, "INVALID_OR_EXPIRED_TOKEN", "the reset link is invalid or has expired"},
	{authcore.ErrUserNotFound, http.StatusNotFound, "USER_NOT_FOUND", "no account with this email"},
	{authcore.ErrNoSuchAccount, http.StatusNotFound, "NO_SUCH_ACCOUNT", "no account with a password for this email"},
	{authcore.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS", "email or password is incorrect"},
	{authcore.ErrSessionInvalid, http.StatusUnauthorized, "SESSION_INVALID", "the session is invalid or has expired"},
	{authcore.ErrDispatch, http.StatusBadGateway, "DISPATCH_FAILED", "the message could not be delivered"},
	{authcore.ErrPersistence, http.StatusInternalServerError, "PERSISTENCE_FAILED", "the change could not be saved"},
	{authcore.ErrProvisioning, http.StatusInternalServerError, "PROVISIONING_FAILED", "the account could not be provisioned"},
	{authcore.ErrStoreUnavailable, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "a backing store is unavailable"},
	{authcore.ErrEngineNotReady, http.StatusServiceUnavailable, "NOT_READY", "the service is not ready"},
}

// opMessages replaces the public message of a sentinel for one operation,
// where the generic text would mislead the client about what to retry.
var opMessages = map[string]map[error]string{
	"verify_code": {
		authcore.ErrPersistence: "the code was used but the account could not be saved; request a new code",
	},
	"complete_reset": {
		authcore.ErrPersistence: "the new password could not be saved; the reset link is still valid",
	},
}

func mapError(op string, err error) (int, string, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			if msg, ok := opMessages[op][m.err]; ok {
				return m.status, m.code, msg
			}
			return m.status, m.code, m.message
		}
	}
	return http.StatusInternalServerError, "INTERNAL", "internal error"
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data, Meta: buildMeta(r)})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Error: &apiError{Code: code, Message: message},
		Meta:  buildMeta(r),
	})
}

func buildMeta(r *http.Request) meta {
	return meta{RequestID: authcore.RequestIDFromContext(r.Context()), Timestamp: time.Now().UTC()}
}

const maxBodyBytes = 64 << 10

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", "request body is not valid JSON")
		return false
	}
	return true
}
