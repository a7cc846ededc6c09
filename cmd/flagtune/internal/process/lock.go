// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	lockName = "flagtune.lock"
	pidName  = "flagtune.pid"
)

// Locker is implemented by WorkspaceLock.
type Locker interface {
	// Acquire takes the lock without blocking.
	Acquire() error

	// Release drops the lock. Safe to call when not held.
	Release() error

	// IsHeld reports whether this instance holds the lock.
	IsHeld() bool
}

// LockHeldError is returned by Acquire when another process holds the lock.
type LockHeldError struct {
	HolderPID int
	LockPath  string
}

func (e *LockHeldError) Error() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("workspace is in use by another flagtune process (PID %d)", e.HolderPID)
	}
	return fmt.Sprintf("workspace is in use by another flagtune process (check: lsof %s)", e.LockPath)
}

// WorkspaceLock is an exclusive flock on a workspace directory.
//
// # Thread Safety
//
// Not safe for concurrent use. Take it once from main.
type WorkspaceLock struct {
	lockPath string
	pidPath  string
	lockFile *os.File
	held     bool
}

// NewWorkspaceLock creates the lock for dir. It does not acquire it.
func NewWorkspaceLock(dir string) *WorkspaceLock {
	return &WorkspaceLock{
		lockPath: filepath.Join(dir, lockName),
		pidPath:  filepath.Join(dir, pidName),
	}
}

// Acquire takes the lock, creating the workspace directory if needed.
//
// # Outputs
//
//   - error: *LockHeldError if another process holds it, or the
//     filesystem error that prevented locking.
func (l *WorkspaceLock) Acquire() error {
	if l.held {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.lockPath), 0o750); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create lock file %s: %w", l.lockPath, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return &LockHeldError{HolderPID: l.HolderPID(), LockPath: l.lockPath}
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	l.lockFile = f
	l.held = true

	// The PID file is informational; the flock is what excludes.
	_ = os.WriteFile(l.pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
	return nil
}

// Release removes the PID file and drops the flock.
func (l *WorkspaceLock) Release() error {
	if !l.held || l.lockFile == nil {
		return nil
	}

	os.Remove(l.pidPath)
	err := unix.Flock(int(l.lockFile.Fd()), unix.LOCK_UN)
	l.lockFile.Close()
	l.lockFile = nil
	l.held = false

	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// IsHeld reports local state only.
func (l *WorkspaceLock) IsHeld() bool {
	return l.held
}

// HolderPID reads the PID file. Returns 0 when it is missing or garbled.
func (l *WorkspaceLock) HolderPID() int {
	data, err := os.ReadFile(l.pidPath)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// LockPath returns the lock file path.
func (l *WorkspaceLock) LockPath() string {
	return l.lockPath
}

var _ Locker = (*WorkspaceLock)(nil)
