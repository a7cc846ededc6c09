// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package measure is the boundary between the tuner and the toolchain.

The tuner never invokes a compiler or a benchmark directly. It talks to a
Measurer, which compiles one configuration, runs the produced artifact and
optionally reports hardware counters. GCC is the production Measurer;
MockMeasurer scripts the same contract for tests.

# Configuration Model

A configuration is three things layered in order:

  - additional: an explicit base option such as "-O2". Empty means the
    driver's configured base level.
  - flags: boolean optimizer switches such as "-funroll-loops".
  - params: numeric knobs rendered as --param=name=value.
*/
package measure

import (
	"context"
	"errors"
	"fmt"
)

// ErrPerfUnavailable is returned by FetchPerf when the Measurer has no
// counter source. The bandit phase refuses to start on it.
var ErrPerfUnavailable = errors.New("performance counters unavailable")

// Setting assigns a value to one numeric parameter.
type Setting struct {
	Name  string
	Value int
}

// String renders the setting the way it is persisted: "<name> <value>".
func (s Setting) String() string {
	return fmt.Sprintf("%s %d", s.Name, s.Value)
}

// Parameter is a numeric compiler knob and its integer domain.
type Parameter struct {
	Name    string
	Min     int
	Max     int
	Default int
}

// Validate checks Min <= Default <= Max and a non-empty name.
func (p Parameter) Validate() error {
	if p.Name == "" {
		return errors.New("parameter name is empty")
	}
	if p.Min > p.Max {
		return fmt.Errorf("parameter %s: min %d exceeds max %d", p.Name, p.Min, p.Max)
	}
	if p.Default < p.Min || p.Default > p.Max {
		return fmt.Errorf("parameter %s: default %d outside [%d, %d]", p.Name, p.Default, p.Min, p.Max)
	}
	return nil
}

// Measurer compiles and measures one configuration at a time.
//
// # Description
//
// Compile builds the artifact that the following Run and FetchPerf calls
// measure. Callers must not interleave configurations: the artifact of the
// most recent successful Compile is the one being measured.
//
// # Thread Safety
//
// Implementations are not required to be safe for concurrent use.
//
// # Errors
//
//   - Compile returns *CompileError when the toolchain exits non-zero.
//   - Run returns *RunError when the artifact fails or cannot be measured.
//   - FetchPerf returns ErrPerfUnavailable (possibly wrapped) when there is
//     no counter source.
type Measurer interface {
	// Compile builds the configuration. nil flags or params mean none; an
	// empty additional means the base optimization level.
	Compile(ctx context.Context, flags []string, params []Setting, additional string) error

	// Run executes the artifact once and returns the objective. Lower is better.
	Run(ctx context.Context) (float64, error)

	// FetchPerf executes the artifact once and returns raw counter values
	// keyed by counter name. Unsupported counters report 0.
	FetchPerf(ctx context.Context) (map[string]float64, error)
}
