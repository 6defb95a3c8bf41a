package cycle

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the operation taxonomy. Handlers match with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation error")
	ErrPermission = errors.New("permission denied")

	// ErrVersionConflict is returned by stores when an optimistic save loses
	// the race; the service retries and only surfaces it when retries run out.
	ErrVersionConflict = errors.New("version conflict")
)

// ValidationError reports a malformed or out-of-range input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ConflictError reports a temporal-invariant violation. ConflictingStart is
// set when the conflict is with an existing ledger entry.
type ConflictError struct {
	Message          string
	ConflictingStart *time.Time
}

func (e *ConflictError) Error() string {
	if e.ConflictingStart != nil {
		return fmt.Sprintf("conflict: %s (existing period starts %s)",
			e.Message, e.ConflictingStart.Format("2006-01-02"))
	}
	return "conflict: " + e.Message
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

func newConflictError(message string) *ConflictError {
	return &ConflictError{Message: message}
}

func newOverlapError(message string, existingStart time.Time) *ConflictError {
	return &ConflictError{Message: message, ConflictingStart: &existingStart}
}

// NotFoundError reports a missing profile or ledger entry.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
	}
	return e.Kind + " not found"
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// PermissionError reports a failed sharing-gate check.
type PermissionError struct {
	Message string
}

func (e *PermissionError) Error() string { return "permission denied: " + e.Message }

func (e *PermissionError) Unwrap() error { return ErrPermission }
