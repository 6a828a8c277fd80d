// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ErrorCategory classifies command errors so that main can decide how
// to present them without parsing message text.
type ErrorCategory string

const (
	// CategoryValidation: the operator's input was wrong (missing
	// arguments, unparseable values). Fix the invocation and rerun.
	CategoryValidation ErrorCategory = "validation"

	// CategoryNotFound: a named resource does not exist, such as an
	// archive record or a credentials file. Rerunning will not help.
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryTransient: a temporary failure, typically the daemon
	// being unreachable. Worth retrying once the cause is fixed.
	CategoryTransient ErrorCategory = "transient"

	// CategoryInternal: a bug or an I/O failure on data the system
	// itself produced.
	CategoryInternal ErrorCategory = "internal"
)

// ToolError is a categorized command error with an optional
// remediation hint. Construct through the category helpers below.
type ToolError struct {
	// Category classifies the failure.
	Category ErrorCategory

	// Hint, when set, is printed on its own after the error text:
	// what to run or check to fix the problem.
	Hint string

	// Err carries the message and the wrapped cause.
	Err error
}

// Error returns the underlying message. The hint is not part of the
// error string; main renders it separately.
func (e *ToolError) Error() string { return e.Err.Error() }

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *ToolError) Unwrap() error { return e.Err }

// WithHint attaches a remediation hint and returns the receiver, so
// hints chain onto the constructors.
func (e *ToolError) WithHint(hint string) *ToolError {
	e.Hint = hint
	return e
}

// Validation creates a validation error: the invocation was wrong.
func Validation(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryValidation, Err: fmt.Errorf(format, args...)}
}

// NotFound creates a not-found error: a referenced resource does not exist.
func NotFound(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryNotFound, Err: fmt.Errorf(format, args...)}
}

// Transient creates a transient error: retry once the cause is fixed.
func Transient(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryTransient, Err: fmt.Errorf(format, args...)}
}

// Internal creates an internal error: a bug or I/O failure.
func Internal(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryInternal, Err: fmt.Errorf(format, args...)}
}
