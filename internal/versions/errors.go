package versions

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput rejects a commit before any state is touched.
	ErrInvalidInput = errors.New("versions: invalid input")
	// ErrConflict means another writer moved the current pointer first.
	ErrConflict = errors.New("versions: current version changed concurrently")
	// ErrTransient is returned when a commit still conflicts after its retry.
	ErrTransient = errors.New("versions: persistent contention, retry later")
	// ErrNotFound indicates the entity or version does not exist.
	ErrNotFound = errors.New("versions: not found")
)

// ValidationError names the offending field of a rejected request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("versions: invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}
