package core

import (
	"context"
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Input and reference errors (terminal, never retried)
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")

	// External service errors
	ErrUnavailable = errors.New("external service unavailable")
	ErrRejected    = errors.New("external service rejected request")

	// Store errors
	ErrNotUnique = errors.New("unique constraint violation")

	// Operation errors
	ErrTimeout            = errors.New("operation timeout")
	ErrCancelled          = errors.New("operation cancelled")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrInternal           = errors.New("internal consistency error")
)

// PipelineError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type PipelineError struct {
	Op      string // Operation that failed (e.g., "steps.probe", "store.Upsert")
	Kind    string // Error kind (e.g., "step", "store", "provider")
	ID      string // Optional ID of the entity involved
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *PipelineError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError creates a new PipelineError
func NewPipelineError(op, kind string, err error) *PipelineError {
	return &PipelineError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// terminalError marks an arbitrary error as terminal without changing its
// message. Used by callers that know a failure can never succeed on retry.
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// MarkTerminal wraps err so IsTerminal reports true for it.
func MarkTerminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal checks if an error must not be retried. Terminal categories:
// input validation, not-found on a referenced entity, permission denied,
// provider rejection (4xx-class), and anything explicitly marked terminal.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	var te *terminalError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrRejected)
}

// IsCancellation checks if an error represents cooperative cancellation.
// Cancellation is terminal for the current attempt; the whole task may be
// re-queued but the step itself is not retried in place.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled)
}

// IsRetryable checks if an error may be retried. Errors are retryable by
// default unless classified terminal or caused by cancellation.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !IsTerminal(err) && !IsCancellation(err)
}

// IsNotFound checks if an error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidInput checks if an error represents a validation failure
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
