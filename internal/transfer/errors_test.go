package transfer

import (
	"errors"
	"fmt"
	"testing"
)

// TestNetworkError_Error verifies error message formatting
func TestNetworkError_Error(t *testing.T) {
	tests := []struct {
		name       string
		err        *NetworkError
		wantFormat string
	}{
		{
			name:       "with HTTP status code",
			err:        &NetworkError{Operation: "request", StatusCode: 503},
			wantFormat: "network error during request (HTTP 503)",
		},
		{
			name:       "with cause",
			err:        &NetworkError{Operation: "stream", Err: errors.New("connection reset")},
			wantFormat: "network error during stream: connection reset",
		},
		{
			name:       "bare",
			err:        &NetworkError{Operation: "request"},
			wantFormat: "network error during request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantFormat {
				t.Errorf("Error() = %q, want %q", got, tt.wantFormat)
			}
		})
	}
}

// TestFileSystemError_Error verifies error message formatting
func TestFileSystemError_Error(t *testing.T) {
	err := &FileSystemError{Operation: "save", Path: "/tmp/a.txt", Err: errors.New("permission denied")}

	expected := "file system error during save of '/tmp/a.txt': permission denied"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

// TestValidationError_Error verifies error message formatting
func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Field: "filename", Reason: "must not be blank", Err: ErrInvalidFilename}

	expected := "invalid filename: must not be blank"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}

	if !errors.Is(err, ErrInvalidFilename) {
		t.Error("errors.Is() should find ErrInvalidFilename")
	}
}

// TestErrorTypes_Unwrap verifies error chain traversal
func TestErrorTypes_Unwrap(t *testing.T) {
	cause := errors.New("underlying cause")

	tests := []struct {
		name string
		err  error
	}{
		{"NetworkError", &NetworkError{Operation: "stream", Err: cause}},
		{"FileSystemError", &FileSystemError{Operation: "write", Path: "a.part", Err: cause}},
		{"ValidationError", &ValidationError{Field: "name", Reason: "blank", Err: cause}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if unwrapped := errors.Unwrap(tt.err); unwrapped != cause {
				t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
			}

			wrapped := fmt.Errorf("context: %w", tt.err)
			if !errors.Is(wrapped, cause) {
				t.Error("errors.Is() should find cause in wrapped chain")
			}
		})
	}
}

// TestNetworkError_As verifies programmatic error type detection
func TestNetworkError_As(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", &NetworkError{Operation: "request", StatusCode: 404})

	var target *NetworkError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As() should extract NetworkError from wrapped chain")
	}

	if target.Operation != "request" {
		t.Errorf("Operation = %q, want %q", target.Operation, "request")
	}
	if target.StatusCode != 404 {
		t.Errorf("StatusCode = %d, want %d", target.StatusCode, 404)
	}
}

// TestFileSystemError_As verifies programmatic error type detection
func TestFileSystemError_As(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", &FileSystemError{Operation: "save", Path: "movie.mp4"})

	var target *FileSystemError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As() should extract FileSystemError from wrapped chain")
	}

	if target.Path != "movie.mp4" {
		t.Errorf("Path = %q, want %q", target.Path, "movie.mp4")
	}
}

// TestErrorTypes_Nil verifies nil error handling
func TestErrorTypes_Nil(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"NetworkError with nil Err", &NetworkError{Operation: "request", StatusCode: 500}},
		{"FileSystemError with nil Err", &FileSystemError{Operation: "create", Path: "a"}},
		{"ValidationError with nil Err", &ValidationError{Field: "filename", Reason: "blank"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if unwrapped := errors.Unwrap(tt.err); unwrapped != nil {
				t.Errorf("Unwrap() = %v, want nil", unwrapped)
			}

			if errMsg := tt.err.Error(); errMsg == "" {
				t.Error("Error() should return non-empty string even when Err is nil")
			}
		})
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "completed"},
		{fmt.Errorf("stop: %w", ErrCancelled), "cancelled"},
		{&NetworkError{Operation: "stream"}, "failed"},
	}

	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
