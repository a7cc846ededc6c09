// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tuner

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/flagtune/services/tune/measure"
	"github.com/AleutianAI/flagtune/services/tune/stats"
	"github.com/AleutianAI/flagtune/services/tune/store"
)

// Configuration names used as result.csv columns.
const (
	ConfigO1         = "O1"
	ConfigO2         = "O2"
	ConfigO3         = "O3"
	ConfigOfast      = "Ofast"
	ConfigOptimizers = "Optimizers"
	ConfigParameters = "Parameters"
)

// Configurations lists the compared configurations in column order.
var Configurations = []string{ConfigO1, ConfigO2, ConfigO3, ConfigOfast, ConfigOptimizers, ConfigParameters}

// Entry is one configuration of a Report.
type Entry struct {
	Name    string
	Samples []float64
	Mean    float64

	// Score is 100 * min(means) / Mean, so the best configuration scores 100.
	Score float64

	// Delta is the score change relative to -O2 in percent.
	Delta float64

	// Failed is set when the configuration could not be measured. Mean,
	// Score and Delta are NaN then.
	Failed bool
}

// Tuned reports whether the entry is one of the tuner's configurations.
func (e Entry) Tuned() bool {
	return e.Name == ConfigOptimizers || e.Name == ConfigParameters
}

// Report is the outcome of the final comparison run.
type Report struct {
	Entries []Entry
}

// Entry returns the entry for name.
func (r *Report) Entry(name string) (Entry, bool) {
	for _, e := range r.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Best returns the name of the configuration with the lowest mean.
func (r *Report) Best() string {
	best, bestMean := "", math.Inf(1)
	for _, e := range r.Entries {
		if !e.Failed && e.Mean < bestMean {
			best, bestMean = e.Name, e.Mean
		}
	}
	return best
}

// NewReport scores the samples of every column. Empty columns are marked
// Failed and left out of the minimum.
func NewReport(results store.Results) *Report {
	r := &Report{Entries: make([]Entry, len(results.Columns))}
	minMean := math.Inf(1)
	for i, name := range results.Columns {
		e := Entry{Name: name, Mean: math.NaN(), Score: math.NaN(), Delta: math.NaN()}
		if i < len(results.Samples) && len(results.Samples[i]) > 0 {
			e.Samples = append([]float64(nil), results.Samples[i]...)
			e.Mean = stats.Mean(e.Samples)
			minMean = math.Min(minMean, e.Mean)
		} else {
			e.Failed = true
		}
		r.Entries[i] = e
	}

	for i := range r.Entries {
		if !r.Entries[i].Failed {
			r.Entries[i].Score = 100 * minMean / r.Entries[i].Mean
		}
	}
	if o2, ok := r.Entry(ConfigO2); ok && !o2.Failed {
		for i := range r.Entries {
			if !r.Entries[i].Failed {
				r.Entries[i].Delta = (r.Entries[i].Score - o2.Score) / o2.Score * 100
			}
		}
	}
	return r
}

// Compare measures the standard optimization levels against the tuned
// configurations.
//
// # Description
//
// Measures -O1, -O2, -O3 and -Ofast (passed as the additional option),
// the selected flags alone, and the selected flags with the optimized
// assignment, CompareSamples times each. Missing flag or assignment
// results count as empty. A configuration that fails to compile or run is
// reported as Failed. Raw samples are persisted, and a later call scores
// the persisted samples without measuring.
func (t *Tuner) Compare(ctx context.Context) (*Report, error) {
	ctx, run := t.startPhase(ctx, store.PhaseCompare, attribute.Int("samples", t.cfg.CompareSamples))

	done, err := t.completed(ctx, store.PhaseCompare)
	if err != nil {
		return nil, run.end(ctx, err)
	}
	if done {
		results, err := t.store.LoadResults(ctx)
		if err != nil {
			return nil, run.end(ctx, fmt.Errorf("load results: %w", err))
		}
		report := NewReport(results)
		t.observer.OnCompare(ctx, report)
		run.skip(ctx)
		return report, nil
	}

	flags, err := t.store.LoadFlags(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, run.end(ctx, fmt.Errorf("load flags: %w", err))
	}
	assignment, err := t.store.LoadAssignment(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, run.end(ctx, fmt.Errorf("load assignment: %w", err))
	}

	type config struct {
		name       string
		flags      []string
		params     []measure.Setting
		additional string
	}
	configs := []config{
		{name: ConfigO1, additional: "-O1"},
		{name: ConfigO2, additional: "-O2"},
		{name: ConfigO3, additional: "-O3"},
		{name: ConfigOfast, additional: "-Ofast"},
		{name: ConfigOptimizers, flags: flags},
		{name: ConfigParameters, flags: flags, params: assignment},
	}

	results := store.Results{Columns: Configurations, Samples: make([][]float64, len(configs))}
	for i, c := range configs {
		samples, err := t.measureConfig(ctx, c.name, c.flags, c.params, c.additional)
		if err != nil {
			if aborted(ctx) {
				return nil, run.end(ctx, ctx.Err())
			}
			t.logger.Warn("configuration failed, leaving it out of the report", "config", c.name, "error", err)
			continue
		}
		results.Samples[i] = samples
	}

	if err := t.store.SaveResults(ctx, results); err != nil {
		return nil, run.end(ctx, fmt.Errorf("save results: %w", err))
	}
	report := NewReport(results)
	for _, e := range report.Entries {
		t.logger.Info("configuration scored", "config", e.Name, "mean", e.Mean, "score", e.Score, "delta_o2", e.Delta)
	}
	t.observer.OnCompare(ctx, report)
	return report, run.end(ctx, nil)
}

func (t *Tuner) measureConfig(ctx context.Context, name string, flags []string, params []measure.Setting, additional string) ([]float64, error) {
	if err := t.compile(ctx, store.PhaseCompare, name, flags, params, additional); err != nil {
		return nil, err
	}
	return t.draw(ctx, store.PhaseCompare, name, t.cfg.CompareSamples)
}
