package phototag

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by ScanFolder when the folder cannot be found.
	ErrNotFound = errors.New("folder does not exist")
	// ErrNotADirectory is returned by ScanFolder when the path is not a folder.
	ErrNotADirectory = errors.New("path is not a directory")
)

// IOError reports a failed filesystem operation.
type IOError struct {
	Op  string // e.g. "read directory"
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("failed to %s: %s", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
