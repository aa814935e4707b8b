package archive

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// LinkError reports a failed hard link. Unsupported means the filesystem
// refused the link (cross-device, permission, no link support) and a copy
// fallback applies.
type LinkError struct {
	Old         string
	New         string
	Unsupported bool
	Cause       error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link %s -> %s: %v", e.New, e.Old, e.Cause)
}

func (e *LinkError) Unwrap() error {
	return e.Cause
}

// PlaceError reports a failure to move a staged file into the canonical tree.
type PlaceError struct {
	Path  string
	Cause error
}

func (e *PlaceError) Error() string {
	return fmt.Sprintf("place %s: %v", e.Path, e.Cause)
}

func (e *PlaceError) Unwrap() error {
	return e.Cause
}

func linkUnsupported(err error) bool {
	return errors.Is(err, syscall.EXDEV) ||
		errors.Is(err, syscall.EPERM) ||
		errors.Is(err, syscall.EACCES) ||
		errors.Is(err, syscall.ENOTSUP) ||
		errors.Is(err, syscall.EOPNOTSUPP) ||
		errors.Is(err, syscall.EMLINK) ||
		errors.Is(err, os.ErrPermission)
}
