// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// ModeEnv overrides output mode detection.
const ModeEnv = "FLAGTUNE_OUTPUT"

// Mode controls how rich the CLI output is.
type Mode string

const (
	// ModeRich uses colors, icons, tables with borders and live progress bars.
	ModeRich Mode = "rich"

	// ModePlain keeps the layout but drops colors and cursor movement.
	ModePlain Mode = "plain"

	// ModeMachine prints tab-separated records for scripts.
	ModeMachine Mode = "machine"
)

// ParseMode converts a flag or environment value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rich", "full":
		return ModeRich, nil
	case "plain", "minimal":
		return ModePlain, nil
	case "machine", "quiet":
		return ModeMachine, nil
	default:
		return ModePlain, fmt.Errorf("unknown output mode %q", s)
	}
}

// DetectMode picks the mode for f. ModeEnv wins when set and valid;
// otherwise terminals get ModeRich and everything else ModePlain.
func DetectMode(f *os.File) Mode {
	if env := os.Getenv(ModeEnv); env != "" {
		if m, err := ParseMode(env); err == nil {
			return m
		}
	}
	if IsTerminal(f) {
		return ModeRich
	}
	return ModePlain
}

// IsTerminal reports whether f is a terminal, including Cygwin ptys.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
