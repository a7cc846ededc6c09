// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package measure

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Command Error Type
// =============================================================================

// CommandError wraps a command execution failure with stderr context.
//
// # Description
//
// Carries the command line, exit code and trimmed stderr of a failed
// process. Supports unwrapping via errors.Is/As.
//
// # Thread Safety
//
// CommandError is immutable after creation and safe for concurrent reads.
//
// # Example
//
//	err := NewCommandError("gcc -O3 -o a.out a.c", 1, "a.c:3: error", nil)
//	fmt.Println(err.Error()) // "gcc -O3 -o a.out a.c (exit 1): a.c:3: error"
type CommandError struct {
	// Command is the command line that was executed.
	Command string

	// ExitCode is the process exit code (-1 if unknown).
	ExitCode int

	// Stderr contains the standard error output (trimmed).
	Stderr string

	// Wrapped is the underlying error (may be nil).
	Wrapped error
}

// NewCommandError creates a CommandError with trimmed stderr.
func NewCommandError(command string, exitCode int, stderr string, wrapped error) *CommandError {
	return &CommandError{
		Command:  command,
		ExitCode: exitCode,
		Stderr:   strings.TrimSpace(stderr),
		Wrapped:  wrapped,
	}
}

// Error returns "<command> (exit N): <stderr or wrapped>".
func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s (exit %d): %s", e.Command, e.ExitCode, e.Stderr)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Wrapped)
	}
	return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

// =============================================================================
// Measurement Errors
// =============================================================================

// CompileError reports a configuration the toolchain rejected.
type CompileError struct {
	Err error
}

func (e *CompileError) Error() string {
	return "compile failed: " + e.Err.Error()
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// Diagnostic returns the toolchain's stderr when available.
func (e *CompileError) Diagnostic() string {
	var ce *CommandError
	if errors.As(e.Err, &ce) && ce.Stderr != "" {
		return ce.Stderr
	}
	return e.Err.Error()
}

// RunError reports a failed execution or an unusable measurement.
type RunError struct {
	Err error
}

func (e *RunError) Error() string {
	return "run failed: " + e.Err.Error()
}

func (e *RunError) Unwrap() error {
	return e.Err
}
