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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/flagtune/pkg/logging"
	"github.com/AleutianAI/flagtune/services/tune/measure"
	"github.com/AleutianAI/flagtune/services/tune/stats"
	"github.com/AleutianAI/flagtune/services/tune/store"
)

func TestNewBaseline_Trimmed(t *testing.T) {
	b, err := NewBaseline([]float64{100, 102, 98, 101, 99}, false, 1)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, b.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt2, b.StdDev, 1e-12)
	assert.Equal(t, []float64{98, 99, 100, 101, 102}, b.Samples)
	assert.False(t, b.Symmetrized)

	b, err = NewBaseline([]float64{5, 1, 4, 2, 3, 10, 9, 8, 7, 6}, false, 0.8)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7, 8}, b.Samples)
	assert.InDelta(t, 4.5, b.Mean, 1e-12)
}

func TestNewBaseline_Symmetrized(t *testing.T) {
	raw := []float64{10, 10.2, 10.1, 10.3, 10.1, 10.2, 10.15, 14, 18, 25}
	b, err := NewBaseline(raw, true, 0)
	require.NoError(t, err)
	assert.True(t, b.Symmetrized)
	assert.Len(t, b.Samples, 2*len(raw))
	assert.InDelta(t, b.Mode, b.Mean, 1e-9)
	assert.Less(t, b.Mode, stats.Mean(raw))
	assert.Equal(t, raw, b.Raw)
}

func TestNewBaseline_ZeroVariance(t *testing.T) {
	_, err := NewBaseline([]float64{7, 7, 7, 7}, false, 1)
	assert.ErrorIs(t, err, stats.ErrZeroVariance)

	_, err = NewBaseline([]float64{7, 7, 7, 7}, true, 0)
	assert.ErrorIs(t, err, stats.ErrZeroVariance)
}

func TestEstimateBaseline_DiscardsWarmup(t *testing.T) {
	s := newScript(map[string][]float64{"": baselineValues})
	m := s.measurer()
	rec := &recorder{}
	tn := newTuner(t, m, newFileStore(t), testConfig(), WithObserver(rec))

	b, err := tn.EstimateBaseline(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 102, 98, 101, 99}, b.Raw)
	assert.InDelta(t, 100.0, b.Mean, 1e-12)
	assert.Equal(t, 1, m.CompileCount())
	assert.Equal(t, 7, m.RunCount())
	assert.Equal(t, measure.CompileCall{}, m.Compiles()[0])
	assert.Equal(t, 5, rec.samples)
	require.Len(t, rec.baselines, 1)
	assert.Equal(t, []PhaseState{PhaseStarted, PhaseCompleted}, rec.phaseStates(store.PhaseBaseline))
}

func TestEstimateBaseline_ResumesFromStore(t *testing.T) {
	st := newFileStore(t)
	first := newTuner(t, newScript(map[string][]float64{"": baselineValues}).measurer(), st, testConfig())
	want, err := first.EstimateBaseline(context.Background())
	require.NoError(t, err)

	m := newScript(nil).measurer()
	rec := &recorder{}
	second := newTuner(t, m, st, testConfig(), WithObserver(rec))
	got, err := second.EstimateBaseline(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, m.CompileCount())
	assert.Equal(t, 0, m.RunCount())
	assert.Equal(t, want.Mean, got.Mean)
	assert.Equal(t, want.StdDev, got.StdDev)
	assert.Equal(t, []PhaseState{PhaseStarted, PhaseSkipped}, rec.phaseStates(store.PhaseBaseline))
}

func TestEstimateBaseline_CompileFailure(t *testing.T) {
	s := newScript(nil)
	s.compileFail[""] = true
	st := newFileStore(t)
	tn := newTuner(t, s.measurer(), st, testConfig())

	_, err := tn.EstimateBaseline(context.Background())
	require.Error(t, err)

	status, err := st.Status(context.Background(), store.PhaseBaseline)
	require.NoError(t, err)
	assert.Equal(t, store.Pending, status)
}

func TestEstimateBaseline_ZeroVariance(t *testing.T) {
	tn := newTuner(t, newScript(map[string][]float64{"": {42}}).measurer(), newFileStore(t), testConfig())
	_, err := tn.EstimateBaseline(context.Background())
	assert.ErrorIs(t, err, stats.ErrZeroVariance)
}

func TestEstimateBaseline_WarnsWhenNotNormal(t *testing.T) {
	values := make([]float64, 100)
	for i := 50; i < 100; i++ {
		values[i] = 10
	}
	cfg := testConfig()
	cfg.Warmup = 0
	cfg.Samples = len(values)

	exporter := logging.NewBufferedExporter()
	logger := logging.New(logging.Config{Quiet: true, Exporter: exporter})
	tn := newTuner(t, newScript(map[string][]float64{"": values}).measurer(), newFileStore(t), cfg, WithLogger(logger))

	b, err := tn.EstimateBaseline(context.Background())
	require.NoError(t, err, "a failed normality test never aborts")
	assert.False(t, b.Normal())
	assert.Contains(t, exporter.Messages(logging.LevelWarn), "baseline is not normally distributed, z and t tests are approximate")
}
