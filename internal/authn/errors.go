package authn

import (
	"errors"
	"net/http"
)

// ErrorType names a class of sign-in failure. The value is what appears in
// the error page query string and in JSON error bodies.
type ErrorType string

const (
	Configuration         ErrorType = "Configuration"
	AccessDenied          ErrorType = "AccessDenied"
	Verification          ErrorType = "Verification"
	OAuthSignin           ErrorType = "OAuthSignin"
	OAuthCallbackError    ErrorType = "OAuthCallbackError"
	OAuthAccountNotLinked ErrorType = "OAuthAccountNotLinked"
	MissingCSRF           ErrorType = "MissingCSRF"
	InvalidCallbackURL    ErrorType = "InvalidCallbackURL"
	UnknownProvider       ErrorType = "UnknownProvider"
	MissingAdapter        ErrorType = "MissingAdapter"
	EmailSignInError      ErrorType = "EmailSignInError"
	SessionTokenError     ErrorType = "SessionTokenError"
)

// Error is returned by the sign-in machinery. Err carries the underlying
// cause and may be nil.
type Error struct {
	Type ErrorType
	Err  error
}

func newError(t ErrorType, err error) *Error {
	return &Error{Type: t, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Type)
	}
	return string(e.Type) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Type, so errors.Is(err, ErrAccessDenied)
// holds regardless of the wrapped cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Type == e.Type
}

// Sentinels for errors.Is.
var (
	ErrConfiguration         = &Error{Type: Configuration}
	ErrAccessDenied          = &Error{Type: AccessDenied}
	ErrVerification          = &Error{Type: Verification}
	ErrOAuthSignin           = &Error{Type: OAuthSignin}
	ErrOAuthCallback         = &Error{Type: OAuthCallbackError}
	ErrOAuthAccountNotLinked = &Error{Type: OAuthAccountNotLinked}
	ErrMissingCSRF           = &Error{Type: MissingCSRF}
	ErrInvalidCallbackURL    = &Error{Type: InvalidCallbackURL}
	ErrUnknownProvider       = &Error{Type: UnknownProvider}
	ErrMissingAdapter        = &Error{Type: MissingAdapter}
	ErrEmailSignIn           = &Error{Type: EmailSignInError}
	ErrSessionToken          = &Error{Type: SessionTokenError}
)

// errorType extracts the ErrorType of err, treating anything untyped as a
// configuration problem.
func errorType(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return Configuration
}

// statusFor maps an error type to the status used by the error page and JSON
// responses.
func statusFor(t ErrorType) int {
	switch t {
	case AccessDenied, Verification, MissingCSRF:
		return http.StatusForbidden
	case UnknownProvider:
		return http.StatusNotFound
	case InvalidCallbackURL, OAuthAccountNotLinked, EmailSignInError, OAuthSignin, OAuthCallbackError:
		return http.StatusBadRequest
	case SessionTokenError:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
