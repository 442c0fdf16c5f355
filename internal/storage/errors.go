// ABOUTME: Error values for handle setup and transaction misuse
// ABOUTME: SetupError marks failures that leave no usable handle

package storage

import (
	"errors"
	"fmt"
)

// ErrUnrecoverable is matched by every error that prevents a handle from being opened.
var ErrUnrecoverable = errors.New("storage: unrecoverable setup failure")

// ErrTxDone is returned when a transaction is used after it was committed or rolled back.
var ErrTxDone = errors.New("storage: transaction already finished")

// ErrClosed is returned when a handle is used after Close.
var ErrClosed = errors.New("storage: handle closed")

// SetupError reports why a handle could not be opened.
type SetupError struct {
	Name string // store name
	Op   string // setup step that failed
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("storage %q: %s: %v", e.Name, e.Op, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// Is reports true for ErrUnrecoverable so callers can tell setup failures
// apart from runtime errors without a type assertion.
func (e *SetupError) Is(target error) bool {
	return target == ErrUnrecoverable
}

func setupErr(name, op string, err error) error {
	return &SetupError{Name: name, Op: op, Err: err}
}
