package services

import (
	"errors"
	"fmt"
)

var (
	// ErrForbidden covers authorization failures and conversations owned by someone else
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrUpstream is returned when the messaging platform rejected or failed a call
	ErrUpstream = errors.New("upstream platform failure")
)

// ValidationError describes a missing or malformed request field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError builds a field level validation error
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is (or wraps) a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// forbidden wraps ErrForbidden with a stable, user-facing reason
func forbidden(reason string) error {
	return fmt.Errorf("%w: %s", ErrForbidden, reason)
}
