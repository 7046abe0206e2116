// Package strataerrors provides structured error handling for Strata with
// rich context, stack traces, and error categorization matching the storage
// core's failure taxonomy.
//
// # Overview
//
// Every error surfaced by the storage core carries an ErrorType:
//   - io: mapping, open, extend or flush failures. The operation is aborted
//     and no partial state becomes visible.
//   - bounds: out-of-range access to a mapped region. This is a programming
//     error and is raised with panic, never returned.
//   - incomplete_row: a row was appended without a value for every column.
//     The row is discarded and the writer stays usable.
//   - open: a column file is missing or has a length that does not fit its
//     element width. The table is unusable until repaired.
//   - corrupt_artifact: a compressed artifact decompressed to an unexpected
//     length or checksum. The raw column file stays authoritative.
//
// # Basic Usage
//
//	if err := row.Append(); strataerrors.IsType(err, strataerrors.ErrorTypeIncompleteRow) {
//	    // caller forgot a column, the writer is still usable
//	}
//
//	return strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to map column").
//	    WithDetail("path", path)
//
// # Thread Safety
//
// Error instances are not thread-safe for modification. Add details before
// sharing an error across goroutines.
package strataerrors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error.
type ErrorType string

const (
	// ErrorTypeIO represents mapping/open/extend/flush failures
	ErrorTypeIO ErrorType = "io"
	// ErrorTypeBounds represents out-of-range access (raised via panic)
	ErrorTypeBounds ErrorType = "bounds"
	// ErrorTypeIncompleteRow represents a row appended with unset columns
	ErrorTypeIncompleteRow ErrorType = "incomplete_row"
	// ErrorTypeOpen represents a missing or corrupt column file
	ErrorTypeOpen ErrorType = "open"
	// ErrorTypeCorruptArtifact represents a compressed artifact that failed verification
	ErrorTypeCorruptArtifact ErrorType = "corrupt_artifact"
	// ErrorTypeValidation represents invalid arguments from the caller
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeState represents an operation invalid in the current state
	ErrorTypeState ErrorType = "state"
	// ErrorTypeOverflow represents an aggregate that would wrap around
	ErrorTypeOverflow ErrorType = "overflow"
	// ErrorTypeNotFound represents a missing table or column
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
)

// Error represents a structured error with context.
//
// Fields:
//   - Type: Categorizes the error for handling strategies
//   - Message: Human-readable error description
//   - Cause: The underlying error that caused this error
//   - Details: Key-value pairs providing additional context
//   - Stack: Call stack at the point of error creation
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack.
type StackFrame struct {
	Function string // Fully qualified function name
	File     string // Source file path
	Line     int    // Line number in source file
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error. Calls can be chained.
//
// Example:
//
//	err := strataerrors.New(strataerrors.ErrorTypeOpen, "column file is corrupt").
//	    WithDetail("path", path).
//	    WithDetail("length", size)
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message, capturing the
// call stack at the point of creation.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf is New with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context, preserving the
// original error as the cause. If the error is already a structured Error,
// its stack trace is preserved. Returns nil if err is nil.
//
// Example:
//
//	if err := unix.Msync(data, unix.MS_SYNC); err != nil {
//	    return strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "msync failed").
//	        WithDetail("path", path)
//	}
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsType reports whether any error in err's chain is a structured Error of
// the given type.
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsIncompleteRow reports whether err is an incomplete row error.
func IsIncompleteRow(err error) bool { return IsType(err, ErrorTypeIncompleteRow) }

// IsOpen reports whether err is a column file open error.
func IsOpen(err error) bool { return IsType(err, ErrorTypeOpen) }

// IsCorruptArtifact reports whether err is a failed artifact verification.
func IsCorruptArtifact(err error) bool { return IsType(err, ErrorTypeCorruptArtifact) }

// IsState reports whether err is a state error.
func IsState(err error) bool { return IsType(err, ErrorTypeState) }

// Bounds raises a bounds violation. Out-of-range access to mapped memory is
// a programming error, so it panics with a *Error instead of returning.
func Bounds(format string, args ...interface{}) {
	panic(&Error{
		Type:    ErrorTypeBounds,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	})
}

// captureStack captures the current call stack up to maxFrames deep,
// skipping the specified number of frames from the top.
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
