package jobs

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid job input")
	ErrNotFound     = errors.New("job not found")
)

// fatalError aborts the whole job instead of failing one item.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks err as job-aborting (store unreachable, broken invariants).
// A nil err stays nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

type panicError struct{ val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.val) }
