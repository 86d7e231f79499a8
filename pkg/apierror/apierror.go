/*
Package apierror defines the error kinds shared by the leader and worker
HTTP surfaces and the single JSON envelope every handler error is
rendered into.

Handlers in pkg/leaderapi and pkg/workerapi render an error by passing
it to WriteJSON themselves; there is no shared wrapping middleware.
*/
package apierror

import (
	"fmt"
	"net/http"
)

// Kind classifies an Error for HTTP status mapping and client handling.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindPolicy      Kind = "policy"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindUpstream    Kind = "upstream"
	KindInternal    Kind = "internal"
	KindTimeout     Kind = "timeout"
	KindRateLimited Kind = "rate_limited"
)

// statusByKind maps each Kind to its HTTP status.
var statusByKind = map[Kind]int{
	KindValidation:  http.StatusBadRequest,
	KindPolicy:      http.StatusForbidden,
	KindNotFound:    http.StatusNotFound,
	KindConflict:    http.StatusConflict,
	KindUpstream:    http.StatusBadGateway,
	KindInternal:    http.StatusInternalServerError,
	KindTimeout:     http.StatusInternalServerError,
	KindRateLimited: http.StatusTooManyRequests,
}

// Error is the error type every handler-facing function in this module
// returns for anything other than unexpected internal failures (those are
// wrapped with Internal at the call site closest to the boundary).
type Error struct {
	Kind        Kind
	Message     string
	Cause       error
	Remediation string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Status returns the HTTP status code for this error's Kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func Policyf(format string, args ...any) *Error {
	return &Error{Kind: KindPolicy, Message: fmt.Sprintf(format, args...)}
}

func RateLimitedf(format string, args ...any) *Error {
	return &Error{Kind: KindRateLimited, Message: fmt.Sprintf(format, args...)}
}

func Upstreamf(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindUpstream, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Internal(cause error, message string) *Error {
	return &Error{Kind: KindInternal, Message: message, Cause: cause}
}
