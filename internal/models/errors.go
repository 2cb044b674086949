package models

import (
	"errors"
	"fmt"
)

// PreconditionError reports a required environment variable or setting
// that is missing or unusable. It is never retried.
type PreconditionError struct {
	Name   string // Environment variable or setting name
	Reason string // Optional detail
}

// NewPreconditionError creates a PreconditionError for a missing variable.
func NewPreconditionError(name string) *PreconditionError {
	return &PreconditionError{Name: name, Reason: "is not set"}
}

// Error implements the error interface for PreconditionError.
func (e *PreconditionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("precondition failed: %s", e.Name)
	}
	return fmt.Sprintf("precondition failed: %s %s", e.Name, e.Reason)
}

// IsPreconditionError checks if the error is or wraps a PreconditionError.
func IsPreconditionError(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}
