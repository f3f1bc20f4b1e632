package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the referenced role, permission or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates an optimistic-concurrency violation; the caller must
	// retry with fresh state.
	ErrConflict = errors.New("version conflict")
	// ErrValidation indicates malformed input rejected before any store write.
	ErrValidation = errors.New("validation failed")
	// ErrUnavailable indicates the durable store could not be reached.
	ErrUnavailable = errors.New("store unavailable")
)

// Validationf wraps ErrValidation with field-level detail for the admin caller.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}
