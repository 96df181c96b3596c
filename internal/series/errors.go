package series

import (
	"errors"
	"fmt"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrNotRecurring      = errors.New("not a recurring occurrence")
	ErrNotInSeries       = errors.New("not part of a recurring series")
	ErrInvalidTransition = errors.New("invalid series status transition")
	ErrAlreadyClosed     = errors.New("task is already completed, skipped or deleted")
	ErrMalformedRule     = errors.New("malformed recurrence rule")
)

// ValidationError reports bad caller input. Nothing is written when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
