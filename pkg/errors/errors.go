package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way the remote service reported it.
type Kind string

const (
	KindLoginRequired        Kind = "login_required"
	KindLoginError           Kind = "login_error"
	KindBadCredentials       Kind = "bad_credentials"
	KindTwoFactorRequired    Kind = "two_factor_required"
	KindConnection           Kind = "connection"
	KindTooManyRequests      Kind = "too_many_requests"
	KindNotFound             Kind = "not_found"
	KindBadRequest           Kind = "bad_request"
	KindForbidden            Kind = "forbidden"
	KindInvalidArgument      Kind = "invalid_argument"
	KindAbort                Kind = "abort"
	KindMismatchedCheckpoint Kind = "mismatched_checkpoint"
)

// Error is a classified crawl failure. Code holds the HTTP status when one
// was involved, 0 otherwise.
type Error struct {
	Kind    Kind
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithCode creates an error carrying an HTTP status code.
func WithCode(kind Kind, code int, message string) *Error {
	return &Error{Kind: kind, Message: message, Code: code}
}

// Wrap creates an error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// TwoFactorError signals that a login returned a two-factor challenge. The
// Identifier is issued by the server and must be passed back verbatim when
// completing the challenge.
type TwoFactorError struct {
	Username   string
	Identifier string
}

func (e *TwoFactorError) Error() string {
	return fmt.Sprintf("%s error: two-factor authentication required for %s", KindTwoFactorRequired, e.Username)
}

// IsKind reports whether err is a classified error of the given kind.
// Bad-credentials and two-factor errors also match KindLoginError, since
// both refine it.
func IsKind(err error, kind Kind) bool {
	var tfe *TwoFactorError
	if errors.As(err, &tfe) {
		return kind == KindTwoFactorRequired || kind == KindLoginError
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	if e.Kind == kind {
		return true
	}
	if kind == KindLoginError {
		return e.Kind == KindBadCredentials || e.Kind == KindTwoFactorRequired
	}
	return false
}

// KindOf returns the kind of a classified error, or an empty Kind.
func KindOf(err error) Kind {
	var tfe *TwoFactorError
	if errors.As(err, &tfe) {
		return KindTwoFactorRequired
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether a failure of this kind may resolve on a later
// attempt. Abort is never retryable; swallowing a deliberate cancellation in
// generic retry logic would defeat its purpose.
func IsRetryable(kind Kind) bool {
	switch kind {
	case KindConnection, KindTooManyRequests, KindNotFound, KindBadRequest:
		return true
	default:
		return false
	}
}
