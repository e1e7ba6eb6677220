package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no record exists for the given owner and id.
// An owner mismatch on an existing record is reported identically, so a
// caller can never learn that another tenant's record exists.
var ErrNotFound = errors.New("record not found")

// ValidationError indicates a required argument was missing on a call that
// requires it. These are programming errors and are never retried.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s is required", e.Field)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
