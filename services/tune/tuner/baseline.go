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

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/flagtune/services/tune/stats"
	"github.com/AleutianAI/flagtune/services/tune/store"
)

// normalityAlpha is the KS p-value below which the baseline is reported
// as non-normal.
const normalityAlpha = 0.05

// Baseline is the reference distribution of the base configuration.
type Baseline struct {
	// Raw holds the measurements as taken, warmup excluded.
	Raw []float64

	// Samples is the shaped distribution used by the tests: Raw mirrored
	// through Mode when Symmetrized, otherwise the trimmed lower part of Raw.
	Samples []float64

	Mean   float64
	StdDev float64

	Symmetrized bool
	Mode        float64

	// KS is the Kolmogorov-Smirnov test of Samples against Normal(Mean, StdDev).
	KS stats.TestResult
}

// Normal reports whether the KS test did not reject normality.
func (b *Baseline) Normal() bool {
	return b.KS.PValue >= normalityAlpha
}

// NewBaseline shapes raw measurements into a Baseline.
//
// # Description
//
// With symmetrize the samples are mirrored through their KDE mode,
// doubling the count. Otherwise they are sorted and the lowest
// floor(n * trimRatio) are kept. Mean and population standard deviation
// are taken over the result and checked for normality with a KS test.
//
// # Outputs
//
//   - *Baseline: The shaped distribution.
//   - error: stats.ErrZeroVariance when the samples carry no spread, or
//     stats.ErrInsufficientSamples / stats.ErrInvalidRatio.
func NewBaseline(raw []float64, symmetrize bool, trimRatio float64) (*Baseline, error) {
	b := &Baseline{
		Raw:         append([]float64(nil), raw...),
		Symmetrized: symmetrize,
	}

	var err error
	if symmetrize {
		b.Samples, b.Mode, err = stats.Symmetrize(raw)
	} else {
		b.Samples, err = stats.TrimUpper(raw, trimRatio)
	}
	if err != nil {
		return nil, err
	}

	b.Mean, b.StdDev = stats.PopMeanStdDev(b.Samples)
	if !(b.StdDev > 0) {
		return nil, stats.ErrZeroVariance
	}
	b.KS, err = stats.KSTestNormal(b.Samples, b.Mean, b.StdDev)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// EstimateBaseline measures the base configuration.
//
// # Description
//
// Compiles the base configuration once, discards Warmup measurements and
// keeps Samples. The raw samples are persisted, and a later call rebuilds
// the Baseline from them without compiling. A failed KS normality test is
// logged as a warning and does not stop the phase.
//
// # Outputs
//
//   - *Baseline: The reference distribution, also cached on the Tuner.
//   - error: Compile or run failures are fatal here since nothing can be
//     tested without a reference.
func (t *Tuner) EstimateBaseline(ctx context.Context) (*Baseline, error) {
	ctx, run := t.startPhase(ctx, store.PhaseBaseline,
		attribute.Int("warmup", t.cfg.Warmup),
		attribute.Int("samples", t.cfg.Samples),
		attribute.Bool("symmetrize", t.cfg.Symmetrize),
	)

	done, err := t.completed(ctx, store.PhaseBaseline)
	if err != nil {
		return nil, run.end(ctx, err)
	}
	if done {
		b, err := t.loadBaseline(ctx)
		if err != nil {
			return nil, run.end(ctx, err)
		}
		run.skip(ctx)
		return b, nil
	}

	b, err := t.measureBaseline(ctx)
	if err != nil {
		return nil, run.end(ctx, err)
	}
	if err := t.store.SaveBaseline(ctx, b.Raw); err != nil {
		return nil, run.end(ctx, fmt.Errorf("save baseline: %w", err))
	}
	return b, run.end(ctx, nil)
}

func (t *Tuner) measureBaseline(ctx context.Context) (*Baseline, error) {
	if err := t.compile(ctx, store.PhaseBaseline, "base", nil, nil, ""); err != nil {
		return nil, fmt.Errorf("compile base configuration: %w", err)
	}

	for i := 0; i < t.cfg.Warmup; i++ {
		if _, err := t.measurer.Run(ctx); err != nil {
			return nil, fmt.Errorf("warmup run %d: %w", i, err)
		}
	}
	raw, err := t.draw(ctx, store.PhaseBaseline, "base", t.cfg.Samples)
	if err != nil {
		return nil, fmt.Errorf("baseline run: %w", err)
	}
	return t.useBaseline(ctx, raw)
}

// loadBaseline returns the cached baseline or rebuilds it from the store.
func (t *Tuner) loadBaseline(ctx context.Context) (*Baseline, error) {
	if t.baseline != nil {
		return t.baseline, nil
	}
	raw, err := t.store.LoadBaseline(ctx)
	if err != nil {
		return nil, fmt.Errorf("load baseline: %w", err)
	}
	return t.useBaseline(ctx, raw)
}

func (t *Tuner) useBaseline(ctx context.Context, raw []float64) (*Baseline, error) {
	b, err := NewBaseline(raw, t.cfg.Symmetrize, t.cfg.TrimRatio)
	if err != nil {
		if errors.Is(err, stats.ErrZeroVariance) {
			t.logger.Error("baseline has no spread, statistical tests are meaningless", "samples", len(raw))
		}
		return nil, fmt.Errorf("shape baseline: %w", err)
	}

	t.logger.Info("baseline estimated",
		"samples", len(b.Samples),
		"mean", b.Mean,
		"std", b.StdDev,
		"symmetrized", b.Symmetrized,
		"mode", b.Mode,
	)
	if !b.Normal() {
		t.logger.Warn("baseline is not normally distributed, z and t tests are approximate",
			"ks_statistic", b.KS.Statistic,
			"ks_p", b.KS.PValue,
		)
	}
	t.baseline = b
	t.observer.OnBaseline(ctx, b)
	return b, nil
}
