// Package apierr defines the error taxonomy surfaced by resource operations
// and the normalizer that classifies arbitrary errors into it.
package apierr

import (
	"fmt"
	"net/http"
)

// Error is the outward error shape: {status, message, details, stack?}.
type Error struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	Stack   string `json:"stack,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return http.StatusText(e.Status)
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// New creates an error with the given status and message.
func New(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(status int, format string, args ...any) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error with the given status that keeps err as its cause.
func Wrap(status int, err error) *Error {
	return &Error{Status: status, Message: err.Error(), cause: err}
}

// Common constructors

// Validation creates a 400 error for schema mismatches.
func Validation(message string, details any) *Error {
	return &Error{Status: http.StatusBadRequest, Message: message, Details: details}
}

// Unauthorized creates a 401 error.
func Unauthorized(message string) *Error {
	if message == "" {
		message = "Authentication required"
	}
	return &Error{Status: http.StatusUnauthorized, Message: message}
}

// Forbidden creates a 403 error naming the denied resource.
func Forbidden(resource string) *Error {
	return &Error{
		Status:  http.StatusForbidden,
		Message: fmt.Sprintf("You do not have access to %s API", resource),
	}
}

// NotFound creates a 404 error.
func NotFound(message string) *Error {
	if message == "" {
		message = "Record does not exist"
	}
	return &Error{Status: http.StatusNotFound, Message: message}
}

// Conflict creates a 409 error.
func Conflict(message string) *Error {
	return &Error{Status: http.StatusConflict, Message: message}
}

// Internal creates a 500 error.
func Internal(message string) *Error {
	if message == "" {
		message = "Server Error"
	}
	return &Error{Status: http.StatusInternalServerError, Message: message}
}

// StatusOf returns the HTTP status carried by err, or 500.
func StatusOf(err error) int {
	if e := Normalize(err); e != nil {
		return e.Status
	}
	return http.StatusInternalServerError
}

// IsNotFound reports whether err classifies as 404.
func IsNotFound(err error) bool {
	return err != nil && StatusOf(err) == http.StatusNotFound
}

// UnknownAdapterError is returned when a configured adapter name has no
// implementation. It is only raised during startup.
type UnknownAdapterError struct {
	Kind string
	Name string
}

// Error implements the error interface.
func (e *UnknownAdapterError) Error() string {
	return fmt.Sprintf("%s adapter with the name %q not found", e.Kind, e.Name)
}
