package engine

import (
	"errors"
	"fmt"
)

// ErrFolderNotFound is returned when a smart folder name is not registered
var ErrFolderNotFound = errors.New("smart folder not found")

// ValidationError indicates a smart folder or rule set is malformed
type ValidationError struct {
	Folder string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Folder == "" {
		return fmt.Sprintf("invalid rule set: %s", e.Reason)
	}
	return fmt.Sprintf("invalid smart folder '%s': %s", e.Folder, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
