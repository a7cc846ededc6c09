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
	"strconv"
	"strings"
)

// DefaultEvents are the counters sampled by perf stat when none are configured.
var DefaultEvents = []string{
	"branch-instructions",
	"branch-misses",
	"bus-cycles",
	"cache-misses",
	"cache-references",
	"cpu-cycles",
	"instructions",
	"ref-cycles",
	"alignment-faults",
	"context-switches",
	"cpu-clock",
	"cpu-migrations",
	"major-faults",
	"minor-faults",
	"page-faults",
	"task-clock",
	"duration_time",
	"user_time",
	"system_time",
}

// PerfStat collects counters with `perf stat -x,`.
type PerfStat struct {
	// Binary is the perf executable. Default "perf".
	Binary string

	// Events are passed as repeated -e arguments.
	Events []string

	runner Runner
}

// NewPerfStat creates a PerfStat. Empty events select DefaultEvents.
func NewPerfStat(runner Runner, events []string) *PerfStat {
	if len(events) == 0 {
		events = DefaultEvents
	}
	return &PerfStat{
		Binary: "perf",
		Events: append([]string(nil), events...),
		runner: runner,
	}
}

// Args builds the perf arguments wrapping command.
func (p *PerfStat) Args(command []string) []string {
	args := make([]string, 0, 2+2*len(p.Events)+len(command))
	args = append(args, "stat", "-x,")
	for _, ev := range p.Events {
		args = append(args, "-e", ev)
	}
	return append(args, command...)
}

// Stat runs command under perf and returns its counters.
//
// A non-zero exit of perf or of the measured program is a *RunError.
func (p *PerfStat) Stat(ctx context.Context, command []string) (map[string]float64, error) {
	if len(command) == 0 {
		return nil, &RunError{Err: errors.New("no command to measure")}
	}
	out, err := p.runner.Run(ctx, p.Binary, p.Args(command)...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &RunError{Err: err}
	}
	counters, err := ParsePerfCSV(string(out.Stderr))
	if err != nil {
		return nil, &RunError{Err: err}
	}
	return counters, nil
}

// ParsePerfCSV parses perf stat -x, output.
//
// Each counter line is value,unit,event,... and maps event to value.
// "<not supported>" and "<not counted>" become 0. Lines that are not
// counter records (comments, program output) are ignored.
func ParsePerfCSV(text string) (map[string]float64, error) {
	counters := make(map[string]float64)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 3 || fields[2] == "" {
			continue
		}
		raw, name := strings.TrimSpace(fields[0]), strings.TrimSpace(fields[2])
		switch raw {
		case "<not supported>", "<not counted>":
			counters[name] = 0
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		counters[name] = v
	}
	if len(counters) == 0 {
		return nil, fmt.Errorf("no counters in perf output")
	}
	return counters, nil
}
