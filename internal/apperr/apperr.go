// Package apperr is the error taxonomy shared by the gateway, the task
// lifecycle manager and the HTTP layer. Handlers never pick status codes
// themselves; they return an *Error and the fiber ErrorHandler renders it.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindAuthRequired
	KindForbidden
	KindNotFound
	KindConflict
	KindValidation
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindAuthRequired:
		return "AuthenticationRequired"
	case KindForbidden:
		return "AuthorizationDenied"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	case KindValidation:
		return "ValidationFailed"
	case KindUpstream:
		return "UpstreamUnavailable"
	default:
		return "Internal"
	}
}

// FieldErrors collects per-field validation messages.
type FieldErrors map[string][]string

func (e FieldErrors) Add(field, msg string) {
	e[field] = append(e[field], msg)
}

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Fields  FieldErrors
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Status maps the kind to an HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindAuthRequired:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func AuthRequired(msg string) *Error {
	return New(KindAuthRequired, "auth_required", msg)
}

// InvalidCredential is the single message shown for malformed, expired or
// badly signed credentials.
func InvalidCredential(cause error) *Error {
	return &Error{Kind: KindAuthRequired, Code: "invalid_credential", Message: "Invalid or expired token", Err: cause}
}

func Forbidden(code, msg string) *Error {
	return New(KindForbidden, code, msg)
}

func NotFound(code, msg string) *Error {
	return New(KindNotFound, code, msg)
}

func Conflict(code, msg string) *Error {
	return New(KindConflict, code, msg)
}

func Validation(msg string, fields FieldErrors) *Error {
	return &Error{Kind: KindValidation, Code: "validation_failed", Message: msg, Fields: fields}
}

func Upstream(msg string, cause error) *Error {
	return &Error{Kind: KindUpstream, Code: "upstream_unavailable", Message: msg, Err: cause}
}

func Internal(msg string, cause error) *Error {
	return &Error{Kind: KindInternal, Code: "internal", Message: msg, Err: cause}
}

// As extracts an *Error from err, wrapping unknown errors as Internal.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("Internal server error", err)
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
