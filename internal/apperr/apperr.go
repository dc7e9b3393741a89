// Package apperr defines the domain error type shared by every service in the
// identity core. Services return these; the HTTP layer maps them to responses
// without ever inspecting error strings.
package apperr

import (
	"errors"
	"net/http"
)

// Error is the canonical domain error. Code is machine-readable and stable;
// Message is safe to return to clients. Cause is for server-side logging only
// and never serialized.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"error"`
	HTTPStatus int    `json:"-"`
	// RetryAfter, in seconds, is set on lockout and rate-limit errors so the
	// transport can emit a Retry-After header.
	RetryAfter int   `json:"retry_after,omitempty"`
	Cause      error `json:"-"`
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Cause }

// Is matches two domain errors by code, so sentinel comparisons like
// errors.Is(err, apperr.InvalidCredentials()) work across wrapped chains.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// Error codes. Handlers and audit records reference these; they are part of
// the external contract and must not change meaning.
const (
	CodeInvalidCredentials       = "invalid_credentials"
	CodeAccountLocked            = "account_locked"
	CodeInvalidMFACode           = "invalid_mfa_code"
	CodeMFALockout               = "mfa_lockout"
	CodeTokenInvalid             = "token_invalid"
	CodeTokenReplayDetected      = "token_replay_detected"
	CodeSessionAbsolutelyExpired = "session_absolutely_expired"
	CodeRateLimited              = "rate_limited"
	CodeForbidden                = "forbidden"
	CodeNotFound                 = "not_found"
	CodeValidation               = "validation_error"
	CodeInternal                 = "internal"
)

// InvalidCredentials is the uniform failure for every credential problem:
// wrong password, unknown user, inactive user, unverified user. Callers must
// never construct a more specific variant on this path.
func InvalidCredentials() *Error {
	return &Error{
		Code:       CodeInvalidCredentials,
		Message:    "invalid credentials",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// AccountLocked reports an active lockout window. retryAfter is the number of
// seconds until the window can next be evaluated.
func AccountLocked(retryAfter int) *Error {
	return &Error{
		Code:       CodeAccountLocked,
		Message:    "account temporarily locked",
		HTTPStatus: http.StatusLocked,
		RetryAfter: retryAfter,
	}
}

func InvalidMFACode() *Error {
	return &Error{
		Code:       CodeInvalidMFACode,
		Message:    "invalid code",
		HTTPStatus: http.StatusUnauthorized,
	}
}

func MFALockout(retryAfter int) *Error {
	return &Error{
		Code:       CodeMFALockout,
		Message:    "too many failed codes",
		HTTPStatus: http.StatusTooManyRequests,
		RetryAfter: retryAfter,
	}
}

// TokenInvalid is the uniform failure for every refresh or access token
// problem surfaced to a client.
func TokenInvalid() *Error {
	return &Error{
		Code:       CodeTokenInvalid,
		Message:    "invalid or expired token",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// TokenReplayDetected marks the presentation of an already-consumed refresh
// token. It stays internal: the transport converts it to TokenInvalid so the
// presenter cannot tell replay detection fired.
func TokenReplayDetected() *Error {
	return &Error{
		Code:       CodeTokenReplayDetected,
		Message:    "invalid or expired token",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// SessionAbsolutelyExpired means the session passed its absolute expiry;
// rotation cannot continue and the user must authenticate again.
func SessionAbsolutelyExpired() *Error {
	return &Error{
		Code:       CodeSessionAbsolutelyExpired,
		Message:    "session expired, authentication required",
		HTTPStatus: http.StatusUnauthorized,
	}
}

func RateLimited(retryAfter int) *Error {
	return &Error{
		Code:       CodeRateLimited,
		Message:    "too many requests",
		HTTPStatus: http.StatusTooManyRequests,
		RetryAfter: retryAfter,
	}
}

// Forbidden is for authenticated callers missing a privilege, not for
// ownership checks; those use NotFound so ownership stays unguessable.
func Forbidden() *Error {
	return &Error{
		Code:       CodeForbidden,
		Message:    "insufficient privileges",
		HTTPStatus: http.StatusForbidden,
	}
}

// NotFound covers both "does not exist" and "not owned by the caller"; the
// two are deliberately indistinguishable.
func NotFound(resource string) *Error {
	return &Error{
		Code:       CodeNotFound,
		Message:    resource + " not found",
		HTTPStatus: http.StatusNotFound,
	}
}

func Validation(msg string) *Error {
	return &Error{
		Code:       CodeValidation,
		Message:    msg,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Internal wraps an unexpected server-side failure. The cause is logged, never
// returned to the client.
func Internal(cause error) *Error {
	return &Error{
		Code:       CodeInternal,
		Message:    "internal error",
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// As extracts the *Error from err's chain, or nil.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

// IsCode reports whether err carries the given domain code.
func IsCode(err error, code string) bool {
	ae := As(err)
	return ae != nil && ae.Code == code
}
