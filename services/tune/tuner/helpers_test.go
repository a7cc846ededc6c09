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
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/flagtune/services/tune/measure"
	"github.com/AleutianAI/flagtune/services/tune/store"
)

// -----------------------------------------------------------------------------
// Test helpers
// -----------------------------------------------------------------------------

// describe keys a compile call as "<additional> <flags...> <name value...>".
func describe(c measure.CompileCall) string {
	var parts []string
	if c.Additional != "" {
		parts = append(parts, c.Additional)
	}
	parts = append(parts, c.Flags...)
	for _, p := range c.Params {
		parts = append(parts, p.String())
	}
	return strings.Join(parts, " ")
}

// script drives a MockMeasurer from per-configuration value sequences.
type script struct {
	// values cycle per configuration key.
	values map[string][]float64

	// fallback is returned for keys without values.
	fallback float64

	compileFail map[string]bool
	runFail     map[string]bool

	mu  sync.Mutex
	pos map[string]int
}

func newScript(values map[string][]float64) *script {
	return &script{
		values:      values,
		fallback:    1000,
		compileFail: map[string]bool{},
		runFail:     map[string]bool{},
		pos:         map[string]int{},
	}
}

func (s *script) measurer() *measure.MockMeasurer {
	m := &measure.MockMeasurer{}
	m.CompileFunc = func(ctx context.Context, call measure.CompileCall) error {
		key := describe(call)
		if s.compileFail[key] {
			return &measure.CompileError{Err: measure.NewCommandError("gcc "+key, 1, "error: unrecognized command-line option", nil)}
		}
		return nil
	}
	m.RunFunc = func(ctx context.Context) (float64, error) {
		key := describe(m.Last())
		if s.runFail[key] {
			return 0, &measure.RunError{Err: measure.NewCommandError("./a.out", 139, "segmentation fault", nil)}
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		vals, ok := s.values[key]
		if !ok {
			return s.fallback, nil
		}
		v := vals[s.pos[key]%len(vals)]
		s.pos[key]++
		return v, nil
	}
	m.PerfFunc = func(ctx context.Context) (map[string]float64, error) {
		return map[string]float64{"cpu-cycles": 999999, "instructions": 1999999}, nil
	}
	return m
}

func testConfig() Config {
	return Config{
		Warmup:         2,
		Samples:        5,
		Symmetrize:     false,
		TrimRatio:      1,
		FlagSamples:    5,
		ParamSamples:   5,
		ZThreshold:     0.05,
		TThreshold:     0.05,
		Alpha:          0.5,
		NumBins:        5,
		NumEpochs:      10,
		BanditSamples:  2,
		Mode:           ModeParallel,
		NthChoice:      1,
		RewardScale:    1000,
		CompareSamples: 3,
	}
}

func newFileStore(t *testing.T) *store.FileStore {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return st
}

func newTuner(t *testing.T, m measure.Measurer, st store.PhaseStore, cfg Config, opts ...Option) *Tuner {
	t.Helper()
	opts = append([]Option{WithSeed(1), WithSessionID("test-session")}, opts...)
	tn, err := New(context.Background(), m, st, cfg, opts...)
	require.NoError(t, err)
	return tn
}

// baselineValues are two discarded warmups followed by u=100, std=sqrt(2).
var baselineValues = []float64{500, 500, 100, 102, 98, 101, 99}

// recorder keeps every event it observes.
type recorder struct {
	mu         sync.Mutex
	phases     []PhaseEvent
	compiles   []CompileEvent
	samples    int
	baselines  []*Baseline
	flags      []FlagEvaluation
	parameters []ParameterEvaluation
	rounds     []BanditRound
	reports    []*Report
}

func (r *recorder) OnPhase(_ context.Context, ev PhaseEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, ev)
}

func (r *recorder) OnCompile(_ context.Context, ev CompileEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compiles = append(r.compiles, ev)
}

func (r *recorder) OnSample(context.Context, SampleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples++
}

func (r *recorder) OnBaseline(_ context.Context, b *Baseline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baselines = append(r.baselines, b)
}

func (r *recorder) OnFlagEvaluated(_ context.Context, ev FlagEvaluation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags = append(r.flags, ev)
}

func (r *recorder) OnParameterEvaluated(_ context.Context, ev ParameterEvaluation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parameters = append(r.parameters, ev)
}

func (r *recorder) OnBanditRound(_ context.Context, ev BanditRound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rounds = append(r.rounds, ev)
}

func (r *recorder) OnCompare(_ context.Context, rep *Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
}

func (r *recorder) phaseStates(phase store.Phase) []PhaseState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PhaseState
	for _, ev := range r.phases {
		if ev.Phase == phase {
			out = append(out, ev.State)
		}
	}
	return out
}

var _ Observer = (*recorder)(nil)

func settingKey(flags string, name string, value int) string {
	return fmt.Sprintf("%s %s %d", flags, name, value)
}
