// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError carries an explicit process exit code through the command
// tree. main checks for it via the ExitCode method before falling back
// to exit code 1.
type ExitError struct {
	// Code is the process exit code.
	Code int

	// Message is printed to stderr when non-empty.
	Message string
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns the process exit code.
func (e *ExitError) ExitCode() int {
	return e.Code
}
