package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedMethod is returned by the command builder for unknown method kinds.
	ErrUnsupportedMethod = errors.New("method not supported")

	// ErrCancelled is returned by the supervisor when the download was cancelled by the user.
	ErrCancelled = errors.New("download cancelled")
)

// ValidationError represents user input that failed validation: a malformed
// identifier, a disallowed source URL or an unsafe filename.
type ValidationError struct {
	Field  string // Which input was rejected (e.g. "id", "url", "filename")
	Value  string // The rejected value
	Reason string // Human-readable explanation
	Err    error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// TransferError represents a failed attempt of an external transfer tool,
// either a non-zero exit, a spawn failure or an exceeded attempt deadline.
type TransferError struct {
	Method   string // Transfer method kind (e.g. "curl", "wget")
	ExitCode int    // Process exit code, -1 when the process did not exit normally
	Reason   string // Human-readable explanation
	Err      error  // Underlying error, if any
}

func (e *TransferError) Error() string {
	if e.ExitCode > 0 {
		return fmt.Sprintf("%s failed with code %d: %s", e.Method, e.ExitCode, e.Reason)
	}

	return fmt.Sprintf("%s failed: %s", e.Method, e.Reason)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
