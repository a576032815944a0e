package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a control signal names a task that is not running.
	ErrNotFound = errors.New("download not found")
	// ErrCancelled is the terminal error of a cancelled transfer.
	ErrCancelled = errors.New("download cancelled")
	// ErrInvalidFilename is returned for blank or path-only file names.
	ErrInvalidFilename = errors.New("invalid filename")
	// ErrFileExists is returned when a rename would overwrite an existing file.
	ErrFileExists = errors.New("file already exists")
)

// NetworkError represents request and stream failures, including non-2xx responses.
type NetworkError struct {
	Operation  string // The operation that failed (e.g., "request", "stream")
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Err        error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	switch {
	case e.StatusCode > 0:
		return fmt.Sprintf("network error during %s (HTTP %d)", e.Operation, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("network error during %s: %v", e.Operation, e.Err)
	default:
		return "network error during " + e.Operation
	}
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// FileSystemError represents failures creating, writing, flushing or renaming files.
type FileSystemError struct {
	Operation string // The operation that failed (e.g., "create", "write", "save")
	Path      string // The file the operation targeted
	Err       error  // Underlying error, if any
}

func (e *FileSystemError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("file system error during %s of '%s': %v", e.Operation, e.Path, e.Err)
	}

	return fmt.Sprintf("file system error during %s of '%s'", e.Operation, e.Path)
}

func (e *FileSystemError) Unwrap() error {
	return e.Err
}

// ValidationError represents rejected caller input.
type ValidationError struct {
	Field  string // The input that was rejected
	Reason string // Human-readable explanation
	Err    error  // Sentinel category, if any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Outcome maps the terminal error of a transfer to a short status label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	default:
		return "failed"
	}
}
