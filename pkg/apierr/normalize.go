package apierr

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// AuthError is an identity-domain error raised by the authentication
// collaborator. Its Code is remapped to an HTTP status by Normalize.
type AuthError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

// authStatus maps identity error codes to statuses.
var authStatus = map[string]int{
	"auth/invalid-email":               400,
	"auth/wrong-password":              401,
	"auth/id-token-expired":            401,
	"auth/invalid-id-token":            401,
	"auth/email-already-exists":        409,
	"auth/phone-number-already-exists": 409,
	"auth/user-not-found":              404,
}

// AuthStatus returns the status for an identity error code.
func AuthStatus(code string) int {
	if status, ok := authStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// IsAuthCode reports whether code belongs to the identity domain.
func IsAuthCode(code string) bool {
	return strings.HasPrefix(code, "auth/")
}

// Normalize classifies err into an *Error. It returns nil for a nil error.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}

	var authErr *AuthError
	if errors.As(err, &authErr) && IsAuthCode(authErr.Code) {
		return &Error{
			Status:  AuthStatus(authErr.Code),
			Message: authErr.Error(),
			Details: map[string]any{"code": authErr.Code},
			cause:   err,
		}
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		if apiErr.Status == 0 {
			cp := *apiErr
			cp.Status = http.StatusInternalServerError
			return &cp
		}
		return apiErr
	}

	var batchErr *BatchError
	if errors.As(err, &batchErr) {
		return batchErr.Err()
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Status: http.StatusServiceUnavailable, Message: err.Error(), cause: err}
	}

	msg := err.Error()
	if msg == "" {
		msg = "Unknown Server Error"
	}
	return &Error{Status: http.StatusInternalServerError, Message: msg, cause: err}
}
