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
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout bounds every compiler, perf and benchmark invocation.
const DefaultTimeout = 30 * time.Second

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Output is the captured output of a finished process.
type Output struct {
	Stdout []byte
	Stderr []byte
}

// Runner executes external processes.
//
// All exec.Command calls in this package go through Runner so compiler and
// perf invocations can be scripted in tests.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use from multiple goroutines.
type Runner interface {
	// Run executes name with args and waits for it.
	//
	// # Outputs
	//
	//   - Output: Captured stdout and stderr, also on failure.
	//   - error: *CommandError for a non-zero exit, timeout or start
	//     failure. Context cancellation is returned as ctx.Err().
	Run(ctx context.Context, name string, args ...string) (Output, error)
}

// -----------------------------------------------------------------------------
// Implementation
// -----------------------------------------------------------------------------

// ExecRunner implements Runner using os/exec.
type ExecRunner struct {
	// Timeout per invocation. Zero means DefaultTimeout.
	Timeout time.Duration
}

// NewExecRunner creates an ExecRunner with the given timeout.
func NewExecRunner(timeout time.Duration) *ExecRunner {
	return &ExecRunner{Timeout: timeout}
}

// Run executes a command synchronously and captures both streams.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (Output, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return out, nil
	}

	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	line := CommandLine(name, args...)
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return out, NewCommandError(line, -1, stderr.String(), fmt.Errorf("timed out after %s", timeout))
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, NewCommandError(line, exitErr.ExitCode(), stderr.String(), err)
	}
	return out, NewCommandError(line, -1, stderr.String(), err)
}

// CommandLine joins a command for logs and error messages.
func CommandLine(name string, args ...string) string {
	return strings.TrimSpace(name + " " + strings.Join(args, " "))
}

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockRunner is a test double for Runner.
//
// Configure it by setting RunFunc. Every invocation is recorded in Calls.
// A nil RunFunc returns empty output and no error.
type MockRunner struct {
	RunFunc func(ctx context.Context, name string, args ...string) (Output, error)

	mu    sync.Mutex
	calls [][]string
}

// Run records the call and delegates to RunFunc.
func (m *MockRunner) Run(ctx context.Context, name string, args ...string) (Output, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]string{name}, args...))
	m.mu.Unlock()

	if m.RunFunc == nil {
		return Output{}, nil
	}
	return m.RunFunc(ctx, name, args...)
}

// Calls returns every recorded invocation as name followed by args.
func (m *MockRunner) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.calls))
	copy(out, m.calls)
	return out
}
