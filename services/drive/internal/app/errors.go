package app

import (
	"errors"
	"net/http"
)

// Kind classifies an Error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthenticated
	KindAccessDenied
	KindNotFound
	KindConflict
	KindTooLarge
	KindRateLimited
	KindUpstream
)

// HTTPStatus returns the response status for k.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindAccessDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a client-safe failure: Code is stable and machine readable,
// Message may be shown to users. Err holds the cause for logs only.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind and Code, so wrapped copies of a
// sentinel still satisfy errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrInvalidInput = newError(KindValidation, "VALIDATION_ERROR", "invalid request")

	ErrAuthRequired   = newError(KindUnauthenticated, "AUTH_REQUIRED", "Authentication required")
	ErrInvalidSession = newError(KindUnauthenticated, "INVALID_SESSION", "Invalid session")
	ErrSessionExpired = newError(KindUnauthenticated, "SESSION_EXPIRED", "Session expired")
	ErrUserNotFound   = newError(KindUnauthenticated, "USER_NOT_FOUND", "User not found")

	ErrEmailExists   = newError(KindConflict, "EMAIL_EXISTS", "Email already registered")
	ErrEmailNotFound = newError(KindNotFound, "EMAIL_NOT_FOUND", "Email not found")
	ErrInvalidOTP    = newError(KindValidation, "INVALID_OTP", "Invalid or expired passcode")

	// Google sign-in.
	ErrBadAudience     = newError(KindUnauthenticated, "BAD_AUDIENCE", "bad audience")
	ErrEmailUnverified = newError(KindUnauthenticated, "EMAIL_NOT_VERIFIED", "Google account email is not verified")
	ErrInvalidIDToken  = newError(KindValidation, "INVALID_ID_TOKEN", "Invalid Google ID token")
	ErrGoogleUpstream  = newError(KindUpstream, "UPSTREAM_ERROR", "Google verification unavailable")

	ErrFileNotFound  = newError(KindNotFound, "FILE_NOT_FOUND", "File not found")
	ErrNotAuthorized = newError(KindAccessDenied, "NOT_AUTHORIZED", "Not allowed")
	ErrAccessDenied  = newError(KindAccessDenied, "ACCESS_DENIED", "You do not have access to this file")
	ErrInvalidName   = newError(KindValidation, "INVALID_NAME", "Invalid name")
	ErrInvalidMode   = newError(KindValidation, "INVALID_MODE", "Invalid mode")
	ErrInvalidToken  = newError(KindNotFound, "INVALID_TOKEN", "Invalid or expired link")
	ErrFileMissing   = newError(KindNotFound, "FILE_MISSING", "File missing on server")
	ErrFileTooLarge  = newError(KindTooLarge, "FILE_TOO_LARGE", "File too large")

	ErrRateLimited = newError(KindRateLimited, "RATE_LIMITED", "Too many requests")
	ErrInternal    = newError(KindInternal, "INTERNAL_ERROR", "Internal server error")
)

// AsError converts err into an *Error. Anything that is not already one
// becomes ErrInternal wrapping err.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal.Wrap(err)
}
