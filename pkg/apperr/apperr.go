// Package apperr defines the error taxonomy shared by the booking engine and the
// conversation loop.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the caller should react to it.
type Kind string

const (
	// KindValidation marks missing or malformed identity or slot data.
	KindValidation Kind = "validation"
	// KindConflict marks a slot that is already booked.
	KindConflict Kind = "conflict"
	// KindNotFound marks a lookup that matched nothing.
	KindNotFound Kind = "not_found"
	// KindUpstreamTransient marks a rate-limited or unreachable LLM.
	KindUpstreamTransient Kind = "upstream_transient"
	// KindUpstreamProtocol marks an unexpected upstream response shape.
	KindUpstreamProtocol Kind = "upstream_protocol"
	// KindInternal is everything else.
	KindInternal Kind = "internal"
)

// Error carries a Kind plus a short, user-safe message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a validation error.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// Conflict returns a conflict error.
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// NotFound returns a not-found error.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// UpstreamTransient wraps a retryable upstream failure.
func UpstreamTransient(code, message string, err error) *Error {
	return &Error{Kind: KindUpstreamTransient, Code: code, Message: message, Err: err}
}

// UpstreamProtocol wraps a malformed upstream response.
func UpstreamProtocol(message string, err error) *Error {
	return &Error{Kind: KindUpstreamProtocol, Message: message, Err: err}
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf reports the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the user-safe message of err, or fallback.
func MessageOf(err error, fallback string) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return fallback
}

// CodeOf returns the machine code attached to err, if any.
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
