// SPDX-License-Identifier: MIT

// Package apperr defines the typed error taxonomy shared by the edge and
// cloud processes and maps it to HTTP status codes at the handler boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for logging, metrics, and HTTP status mapping.
type Kind string

const (
	Unauthenticated   Kind = "unauthenticated"
	PermissionDenied  Kind = "permission_denied"
	NotFound          Kind = "not_found"
	InvalidInput      Kind = "invalid_input"
	RateLimited       Kind = "rate_limited"
	TransientUpstream Kind = "transient_upstream"
	Conflict          Kind = "conflict"
	Corruption        Kind = "corruption"
	Internal          Kind = "internal"
)

// Error wraps an underlying cause with a Kind and a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error of the given Kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given Kind, chaining cause with %w semantics.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf extracts the Kind of err, defaulting to Internal if err is not (or
// does not wrap) an *Error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Internal
}

// HTTPStatus maps a Kind to the status code a handler should return.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Unauthenticated:
		return http.StatusUnauthorized
	case PermissionDenied:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case InvalidInput:
		return http.StatusBadRequest
	case RateLimited:
		return http.StatusTooManyRequests
	case TransientUpstream:
		return http.StatusBadGateway
	case Conflict:
		return http.StatusConflict
	case Corruption:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// WriteHTTP writes a JSON error body of the shape {"error": err.Error(),
// "kind": kind} with the status code derived from err's Kind. Conflict errors are never expected to
// reach here — the idempotency layer swallows them before the handler
// boundary — but are mapped defensively in case one escapes.
func WriteHTTP(w http.ResponseWriter, err error) {
	kind := KindOf(err)
	status := HTTPStatus(kind)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q,"kind":%q}`, err.Error(), kind)
}
