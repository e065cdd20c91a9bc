package apierr

import (
	"fmt"
	"net/http"
)

// ItemError is the failure shape stored at a failed id's slot in a batch
// result map.
type ItemError struct {
	Error   bool   `json:"error"`
	Status  int    `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// Item converts err into a per-id failure.
func Item(err error) *ItemError {
	e := Normalize(err)
	if e == nil {
		return &ItemError{Error: true}
	}
	return &ItemError{
		Error:   true,
		Status:  e.Status,
		Message: e.Message,
		Details: e.Details,
		Stack:   e.Stack,
	}
}

// BatchError aggregates per-id failures of a single-id batch operation.
type BatchError struct {
	Resource  string
	Operation string
	Details   map[string]*ItemError
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	return e.Err().Message
}

// Err flattens the batch error into the outward shape. The status is 404
// unless a failed item carried its own status.
func (e *BatchError) Err() *Error {
	status := http.StatusNotFound
	message := fmt.Sprintf("Error occurred during %s of one or more %s records since they were not found.", e.Operation, e.Resource)
	for _, item := range e.Details {
		if item.Status != 0 {
			status = item.Status
		}
		if item.Message != "" {
			message = item.Message
		}
		break
	}
	return &Error{Status: status, Message: message, Details: e.Details, cause: e}
}
