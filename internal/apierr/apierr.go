// Package apierr defines the error taxonomy shared by every handler:
// a small set of stable codes, constructors for each, and the mapping from
// code to HTTP status. Handlers return these values instead of ad hoc
// (status, error) pairs so that authorization and validation failures
// short-circuit uniformly.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error category. Codes are stable and map one-to-one
// onto HTTP statuses.
type Code string

const (
	// CodeInvalidRequest marks malformed payloads or missing required
	// attributes (HTTP 400).
	CodeInvalidRequest Code = "invalid_request"

	// CodeUnauthorized marks missing, unparseable, expired, or otherwise
	// unverifiable credentials (HTTP 401).
	CodeUnauthorized Code = "unauthorized"

	// CodeForbidden marks an authenticated caller with insufficient role
	// or identity for the target resource (HTTP 403).
	CodeForbidden Code = "forbidden"

	// CodeNotFound marks a lookup with no matching entity (HTTP 404).
	CodeNotFound Code = "not_found"

	// CodeConflict marks contradictory enrollment changes or references
	// to entities with the wrong role (HTTP 409).
	CodeConflict Code = "conflict"

	// CodeInternal marks unexpected upstream failures: datastore, blob
	// store, or identity provider errors (HTTP 500).
	CodeInternal Code = "internal"
)

// Error is a coded API error. Message is safe to return to clients; Err,
// when set, carries the upstream cause for logs only.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the upstream cause to errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status for the error's code.
func (e *Error) Status() int {
	switch e.Code {
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func newError(code Code, format string, args ...any) *Error {
	if len(args) == 0 {
		return &Error{Code: code, Message: format}
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// InvalidRequest builds a 400-class error.
func InvalidRequest(format string, args ...any) *Error {
	return newError(CodeInvalidRequest, format, args...)
}

// Unauthorized builds a 401-class error.
func Unauthorized(format string, args ...any) *Error {
	return newError(CodeUnauthorized, format, args...)
}

// Forbidden builds a 403-class error.
func Forbidden(format string, args ...any) *Error {
	return newError(CodeForbidden, format, args...)
}

// NotFound builds a 404-class error.
func NotFound(format string, args ...any) *Error {
	return newError(CodeNotFound, format, args...)
}

// Conflict builds a 409-class error.
func Conflict(format string, args ...any) *Error {
	return newError(CodeConflict, format, args...)
}

// Internal builds a 500-class error.
func Internal(format string, args ...any) *Error {
	return newError(CodeInternal, format, args...)
}

// Wrap attaches an upstream cause to a new coded error. The cause is kept
// for unwrapping and logging but never serialized to clients.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// As extracts a coded error from an error chain.
func As(err error) (*Error, bool) {
	var coded *Error
	if errors.As(err, &coded) {
		return coded, true
	}
	return nil, false
}

// GetCode returns the error's code, or CodeInternal for uncoded errors.
func GetCode(err error) Code {
	if coded, ok := As(err); ok {
		return coded.Code
	}
	return CodeInternal
}

// Status returns the HTTP status for any error. Uncoded errors map to 500.
func Status(err error) int {
	if coded, ok := As(err); ok {
		return coded.Status()
	}
	return http.StatusInternalServerError
}

// Message returns the client-safe message for an error. Uncoded errors are
// masked so upstream details never leak into responses.
func Message(err error) string {
	if coded, ok := As(err); ok {
		return coded.Message
	}
	return "internal server error"
}

// IsInvalidRequest reports whether err carries CodeInvalidRequest.
func IsInvalidRequest(err error) bool { return GetCode(err) == CodeInvalidRequest }

// IsUnauthorized reports whether err carries CodeUnauthorized.
func IsUnauthorized(err error) bool { return GetCode(err) == CodeUnauthorized }

// IsForbidden reports whether err carries CodeForbidden.
func IsForbidden(err error) bool { return GetCode(err) == CodeForbidden }

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool {
	if coded, ok := As(err); ok {
		return coded.Code == CodeNotFound
	}
	return false
}

// IsConflict reports whether err carries CodeConflict.
func IsConflict(err error) bool {
	if coded, ok := As(err); ok {
		return coded.Code == CodeConflict
	}
	return false
}
