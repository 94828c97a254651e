// Package services implements the persistence layer the coordinator and the
// HTTP surface call into: session checkpoints, the pending-gate row updates,
// master-resume merge/create, workflow artifacts, positioning profiles, and
// questionnaire answers.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrGateMismatch means a conditional gate update matched no row: the
	// session's pending gate is not the one the caller expected.
	ErrGateMismatch = errors.New("pending gate mismatch")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a field validation error.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
