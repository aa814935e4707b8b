// Package manifest implements the durable acquisition ledger: one entry per
// manifest key, guarded by per-key leases so that at most one worker fetches
// a key at a time.
package manifest

import (
	"errors"
	"fmt"
)

// ErrAlreadyInProgress is returned by Begin when another worker holds the key.
var ErrAlreadyInProgress = errors.New("manifest key already in progress")

// ErrLeaseLost is returned by Commit and Abort when the lease expired and
// the key may be owned by another worker. It matches ErrAlreadyInProgress.
var ErrLeaseLost = fmt.Errorf("%w: lease lost", ErrAlreadyInProgress)

// ErrLeaseClosed is returned when a lease is used after Commit, Abort or Release.
var ErrLeaseClosed = errors.New("manifest lease already closed")

// UnavailableError means the ledger could not be read or written at all.
// The pipeline treats it as fatal for the run.
type UnavailableError struct {
	Op    string
	Cause error
}

func (e *UnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("manifest unavailable: %s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("manifest unavailable: %s", e.Op)
}

func (e *UnavailableError) Unwrap() error {
	return e.Cause
}

// IsUnavailable reports whether err is an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// CommitError is returned when a commit is refused because its invariants
// are not met.
type CommitError struct {
	Key     string
	Message string
	Cause   error
}

func (e *CommitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("commit %s: %s: %v", e.Key, e.Message, e.Cause)
	}
	return fmt.Sprintf("commit %s: %s", e.Key, e.Message)
}

func (e *CommitError) Unwrap() error {
	return e.Cause
}

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &UnavailableError{Op: op, Cause: err}
}
