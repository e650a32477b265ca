// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for blobgate.
//
// Every fault raised inside the ingress pipeline (assembly, relay, dispatch,
// handler) is classified by an explicit Kind. Map turns that kind into the
// HTTP status and connection policy used by the response emitter, so the
// mapping never depends on which concrete error type was raised.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Common error types
var (
	// ErrUnauthorized indicates authentication or authorization failure.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidInput indicates invalid input data.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTimeout indicates an operation timeout.
	ErrTimeout = errors.New("timeout")

	// ErrConnectionClosed indicates the connection was closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrProtocolViolation indicates a protocol-level error.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrBackendUnavailable indicates the blob store is unavailable.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrRateLimited indicates rate limit exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrSizeLimitExceeded indicates size limit exceeded.
	ErrSizeLimitExceeded = errors.New("size limit exceeded")

	// ErrNotFound indicates the addressed resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrMethodNotAllowed indicates a method the resource does not support.
	ErrMethodNotAllowed = errors.New("method not allowed")
)

// Kind classifies a fault for the failure mapper.
type Kind int

const (
	// KindInternal is an unexpected runtime fault. It is the zero value so
	// that unclassified errors are treated as internal.
	KindInternal Kind = iota
	KindBadRequest
	KindMethodNotAllowed
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindTooLarge
	KindRateLimited
	KindUnavailable
	KindTimeout
	// KindConnection is a fault of the channel itself. It is answered with 500
	// and a close unless the response head is already out.
	KindConnection
)

// String returns a string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindBadRequest:
		return "bad_request"
	case KindMethodNotAllowed:
		return "method_not_allowed"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindTooLarge:
		return "too_large"
	case KindRateLimited:
		return "rate_limited"
	case KindUnavailable:
		return "unavailable"
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// Status returns the HTTP status code conventionally used for the kind.
func (k Kind) Status() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified fault.
type Error struct {
	Kind Kind   // Classification used by Map
	Code int    // Explicit HTTP status; 0 means derive it from Kind
	Op   string // Operation that failed
	Err  error  // Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return e.Kind.String()
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithCode creates an error that carries the HTTP status to answer with.
// The status is passed through verbatim by Map.
func WithCode(code int, op string, err error) error {
	kind := KindBadRequest
	if code >= http.StatusInternalServerError {
		kind = KindInternal
	}
	return &Error{Kind: kind, Code: code, Op: op, Err: err}
}

// BadRequest creates a KindBadRequest error with a formatted message.
func BadRequest(format string, args ...any) error {
	return &Error{Kind: KindBadRequest, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err. Unclassified errors are KindInternal,
// except for the sentinel errors of this package and context cancellation.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrConnectionClosed), errors.Is(err, context.Canceled):
		return KindConnection
	case errors.Is(err, ErrProtocolViolation), errors.Is(err, ErrInvalidInput):
		return KindBadRequest
	case errors.Is(err, ErrMethodNotAllowed):
		return KindMethodNotAllowed
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrSizeLimitExceeded):
		return KindTooLarge
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrBackendUnavailable):
		return KindUnavailable
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindInternal
	}
}

// Failure is the outcome of mapping a fault.
type Failure struct {
	// Status is the HTTP status code of the response.
	Status int
	// Close forces the connection to be closed once the response is flushed.
	Close bool
}

// Map converts a fault into a response status and a connection policy.
// Internal and connection faults are answered with 500 and close the
// connection. A fault raised after the response head is on the wire is not
// answered; the emitter drops it.
func Map(err error) Failure {
	kind := KindOf(err)
	status := kind.Status()
	var e *Error
	if errors.As(err, &e) && e.Code != 0 {
		status = e.Code
	}

	return Failure{
		Status: status,
		Close:  kind == KindInternal || kind == KindConnection,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
