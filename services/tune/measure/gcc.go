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
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	// DefaultTemplate is the compile command line. {options} expands to the
	// base level, flags and --param settings.
	DefaultTemplate = "{cc} {options} -o {out} {src}"

	// MetricSize measures the size of the output file in bytes.
	MetricSize = "size"

	// MetricDuration is perf's wall-clock counter in nanoseconds.
	MetricDuration = "duration_time"
)

// GCCConfig describes how to build and measure one program.
type GCCConfig struct {
	// CC is the compiler driver, e.g. "gcc" or "g++-12".
	CC string

	// Source lists the input files, space separated.
	Source string

	// Output is the artifact path passed to -o.
	Output string

	// Template is the command line; see DefaultTemplate.
	Template string

	// Base is the optimization level used when no explicit one is given.
	Base string

	// Metric is MetricSize or any perf event name.
	Metric string

	// Scale divides perf metric values. Zero means 1.
	Scale float64

	// RunCommand executes the artifact. Empty means the output itself.
	RunCommand []string

	// Events are the perf counters used as bandit features.
	Events []string

	// DisablePerf makes FetchPerf return ErrPerfUnavailable.
	DisablePerf bool
}

// GCC is the production Measurer for GCC-compatible drivers.
//
// # Thread Safety
//
// GCC is safe for concurrent use, but concurrent Compile calls overwrite
// the same output file.
type GCC struct {
	cfg    GCCConfig
	runner Runner
	perf   *PerfStat
}

// NewGCC validates cfg and creates the driver.
func NewGCC(cfg GCCConfig, runner Runner) (*GCC, error) {
	if cfg.CC == "" {
		return nil, errors.New("compiler driver is required")
	}
	if strings.TrimSpace(cfg.Source) == "" {
		return nil, errors.New("source is required")
	}
	if cfg.Output == "" {
		return nil, errors.New("output is required")
	}
	if cfg.Template == "" {
		cfg.Template = DefaultTemplate
	}
	if !strings.Contains(cfg.Template, "{options}") {
		return nil, fmt.Errorf("template %q lacks {options}", cfg.Template)
	}
	if cfg.Base == "" {
		cfg.Base = "-O3"
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricDuration
	}
	if cfg.Scale == 0 {
		cfg.Scale = 1
	}
	if len(cfg.RunCommand) == 0 {
		out := cfg.Output
		if !strings.ContainsRune(out, '/') {
			out = "./" + out
		}
		cfg.RunCommand = []string{out}
	}
	if runner == nil {
		runner = NewExecRunner(DefaultTimeout)
	}
	return &GCC{
		cfg:    cfg,
		runner: runner,
		perf:   NewPerfStat(runner, cfg.Events),
	}, nil
}

// Config returns the effective configuration.
func (g *GCC) Config() GCCConfig {
	return g.cfg
}

// Options renders the option list: additional (or the base level), then
// flags, then --param=name=value for each setting.
func (g *GCC) Options(flags []string, params []Setting, additional string) []string {
	level := additional
	if level == "" {
		level = g.cfg.Base
	}
	opts := strings.Fields(level)
	opts = append(opts, flags...)
	for _, p := range params {
		opts = append(opts, "--param="+p.Name+"="+strconv.Itoa(p.Value))
	}
	return opts
}

// CommandArgs expands the template into argv.
func (g *GCC) CommandArgs(flags []string, params []Setting, additional string) []string {
	repl := strings.NewReplacer("{cc}", g.cfg.CC, "{out}", g.cfg.Output, "{src}", g.cfg.Source)
	var argv []string
	for _, tok := range strings.Fields(g.cfg.Template) {
		switch tok {
		case "{options}":
			argv = append(argv, g.Options(flags, params, additional)...)
		case "{src}":
			argv = append(argv, strings.Fields(g.cfg.Source)...)
		default:
			argv = append(argv, repl.Replace(tok))
		}
	}
	return argv
}

// Compile builds the configuration.
func (g *GCC) Compile(ctx context.Context, flags []string, params []Setting, additional string) error {
	argv := g.CommandArgs(flags, params, additional)
	if _, err := g.runner.Run(ctx, argv[0], argv[1:]...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &CompileError{Err: err}
	}
	return nil
}

// Run measures the artifact once.
func (g *GCC) Run(ctx context.Context) (float64, error) {
	if g.cfg.Metric == MetricSize {
		return FileSize(g.cfg.Output)
	}
	counters, err := g.perf.Stat(ctx, g.cfg.RunCommand)
	if err != nil {
		return 0, err
	}
	v, ok := counters[g.cfg.Metric]
	if !ok {
		return 0, &RunError{Err: fmt.Errorf("perf output lacks %s", g.cfg.Metric)}
	}
	return v / g.cfg.Scale, nil
}

// FetchPerf runs the artifact under perf and returns every counter.
func (g *GCC) FetchPerf(ctx context.Context) (map[string]float64, error) {
	if g.cfg.DisablePerf {
		return nil, ErrPerfUnavailable
	}
	return g.perf.Stat(ctx, g.cfg.RunCommand)
}

// FileSize returns the size of path in bytes as a measurement.
func FileSize(path string) (float64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, &RunError{Err: err}
	}
	return float64(info.Size()), nil
}
