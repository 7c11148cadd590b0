// Package apperr defines the error taxonomy shared by the request gate,
// the credential issuer and the HTTP handlers. Every kind carries a stable
// code, an HTTP status and a message that is safe to show to callers.
package apperr

import (
	"errors"
	"net/http"
)

// Error is a classified application error.
type Error struct {
	Code    string
	Status  int
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

// Is matches by code, so a kind with a caller-specific message still
// satisfies errors.Is against the sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithMessage returns a copy of the kind carrying msg.
func (e *Error) WithMessage(msg string) *Error {
	c := *e
	c.Message = msg
	return &c
}

var (
	ErrBadRequest         = &Error{Code: "BAD_REQUEST", Status: http.StatusBadRequest, Message: "Bad request"}
	ErrInvalidCredentials = &Error{Code: "INVALID_CREDENTIALS", Status: http.StatusUnauthorized, Message: "Invalid credentials"}
	ErrNoToken            = &Error{Code: "NO_TOKEN", Status: http.StatusUnauthorized, Message: "No token provided"}
	ErrInvalidToken       = &Error{Code: "INVALID_TOKEN", Status: http.StatusUnauthorized, Message: "Invalid token"}
	ErrForbidden          = &Error{Code: "FORBIDDEN", Status: http.StatusForbidden, Message: "Admin access required"}
	ErrForbiddenCSRF      = &Error{Code: "FORBIDDEN_CSRF", Status: http.StatusForbidden, Message: "Invalid CSRF token"}
	ErrNotFound           = &Error{Code: "NOT_FOUND", Status: http.StatusNotFound, Message: "Not found"}
	ErrConflict           = &Error{Code: "CONFLICT", Status: http.StatusConflict, Message: "Username or email already exists"}
	ErrRateLimited        = &Error{Code: "RATE_LIMITED", Status: http.StatusTooManyRequests, Message: "Too many requests, please try again later."}
	ErrInternal           = &Error{Code: "INTERNAL_ERROR", Status: http.StatusInternalServerError, Message: "Internal server error"}
)

// Wrap attaches cause to a copy of kind.
func Wrap(kind *Error, cause error) *Error {
	c := *kind
	c.Err = cause
	return &c
}

// As classifies err. Anything unclassified becomes an InternalError that
// still carries the original cause for server-side logging.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(ErrInternal, err)
}
