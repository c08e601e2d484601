package types

import (
	"errors"
	"fmt"
)

// ARCHITECTURAL DISCOVERY: Failure taxonomy shared by every runner. Each one
// is recorded as a failed check and never aborts the load run
var (
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrMissingField     = errors.New("missing field")
	ErrHandshakeFailed  = errors.New("websocket handshake failed")
	ErrTimeout          = errors.New("session timeout reached")
	ErrSkipped          = errors.New("step skipped: prerequisite unavailable")
)

// Validation errors
var (
	ErrEmptyUsername = errors.New("username cannot be empty")
	ErrEmptyPassword = errors.New("password cannot be empty")
	ErrInvalidEmail  = errors.New("email address is invalid")
)

// StatusError carries the response context of a status mismatch
type StatusError struct {
	Op       string
	Expected int
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: expected status %d, got %d: %s", e.Op, e.Expected, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}

// MissingFieldError reports an absent JSON field in a response body
type MissingFieldError struct {
	Op    string
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: response has no %q field", e.Op, e.Field)
}

func (e *MissingFieldError) Unwrap() error {
	return ErrMissingField
}

// Skipped wraps ErrSkipped with the name of the unavailable prerequisite
func Skipped(prerequisite string) error {
	return fmt.Errorf("%w: no %s", ErrSkipped, prerequisite)
}
