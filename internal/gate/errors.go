// ABOUTME: Runtime error taxonomy for gated store operations
// ABOUTME: Sentinels for lifecycle failures, typed errors that carry the cause

package gate

import "errors"

var (
	// ErrHandleUnavailable is returned when the gate is nil, was never opened,
	// has been closed, or its handle could not start a transaction.
	ErrHandleUnavailable = errors.New("store handle unavailable")

	// ErrDatabaseDestroyed is returned for every operation after Destroy.
	ErrDatabaseDestroyed = errors.New("database destroyed")

	// ErrUnknownKind is returned when an operation is neither Read nor Write.
	ErrUnknownKind = errors.New("unknown operation kind")

	// ErrWorkFailed is matched by every *WorkError.
	ErrWorkFailed = errors.New("work failed")

	// ErrCommitFailed is matched by every *CommitError.
	ErrCommitFailed = errors.New("commit failed")
)

// WorkError wraps an error returned (or a panic raised) by a unit of work.
// Its message is the work's own message; nothing was committed.
type WorkError struct {
	Err error
}

func (e *WorkError) Error() string { return e.Err.Error() }

func (e *WorkError) Unwrap() error { return e.Err }

func (e *WorkError) Is(target error) bool { return target == ErrWorkFailed }

// CommitError reports that work succeeded but the store rejected its changes.
// The changes were rolled back.
type CommitError struct {
	Err error
}

func (e *CommitError) Error() string { return "commit failed: " + e.Err.Error() }

func (e *CommitError) Unwrap() error { return e.Err }

func (e *CommitError) Is(target error) bool { return target == ErrCommitFailed }
