// Package services holds the domain services between the HTTP layer and
// the engine: workflow management and the execution lifecycle.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrNotPaused is returned when resume is attempted on an execution
	// that is not awaiting review.
	ErrNotPaused = errors.New("execution is not paused")

	// ErrNotTerminal is returned when the final result is requested for
	// an execution that is still in flight.
	ErrNotTerminal = errors.New("execution has not finished")

	// ErrAlreadyTerminal is returned when cancellation is attempted on a
	// finished execution.
	ErrAlreadyTerminal = errors.New("execution already finished")
)

// ValidationError wraps field-specific validation errors.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
