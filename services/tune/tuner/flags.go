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

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/flagtune/services/tune/stats"
	"github.com/AleutianAI/flagtune/services/tune/store"
	"github.com/AleutianAI/flagtune/services/tune/telemetry"
)

// SelectFlags keeps the candidate flags that lower the objective on their
// own.
//
// # Description
//
// Each flag is compiled alone on top of the base level and measured
// FlagSamples times. Against the baseline (mean u, std s) the tuner
// computes z = (mean - u) / (s / sqrt(n)) with its two-sided p-value and a
// one-sample t-test against u. The flag is selected iff
//
//	(p_z < ZThreshold || p_t < TThreshold) && z < 0
//
// Flags are tested independently, never against each other. A flag that
// fails to compile or run is logged and skipped.
//
// # Inputs
//
//   - ctx: Cancellation aborts the phase without persisting.
//   - candidates: Flags in test order.
//
// # Outputs
//
//   - []string: Selected flags in candidate order. When the phase is
//     already completed the persisted selection is returned and nothing is
//     compiled.
//   - error: *PreconditionError without a baseline, store or context errors.
func (t *Tuner) SelectFlags(ctx context.Context, candidates []string) ([]string, error) {
	ctx, run := t.startPhase(ctx, store.PhaseFlags, attribute.Int("candidates", len(candidates)))

	done, err := t.completed(ctx, store.PhaseFlags)
	if err != nil {
		return nil, run.end(ctx, err)
	}
	if done {
		flags, err := t.store.LoadFlags(ctx)
		if err != nil {
			return nil, run.end(ctx, fmt.Errorf("load flags: %w", err))
		}
		run.skip(ctx)
		return flags, nil
	}

	if err := t.require(ctx, store.PhaseFlags, store.PhaseBaseline); err != nil {
		return nil, run.end(ctx, err)
	}
	base, err := t.loadBaseline(ctx)
	if err != nil {
		return nil, run.end(ctx, err)
	}

	selected := make([]string, 0)
	for i, flag := range candidates {
		ev, err := t.evaluateFlag(ctx, flag, base)
		if err != nil {
			return nil, run.end(ctx, err)
		}
		ev.Index, ev.Total = i, len(candidates)
		t.observer.OnFlagEvaluated(ctx, ev)
		if ev.Selected {
			selected = append(selected, flag)
			telemetry.AddSpanEvent(run.span, "flag_selected", attribute.String("flag", flag))
		}
	}

	if err := t.store.SaveFlags(ctx, selected); err != nil {
		return nil, run.end(ctx, fmt.Errorf("save flags: %w", err))
	}
	t.logger.Info("flags selected", "selected", len(selected), "candidates", len(candidates))
	return selected, run.end(ctx, nil)
}

// evaluateFlag measures one flag. The returned error is non-nil only when
// the phase must stop.
func (t *Tuner) evaluateFlag(ctx context.Context, flag string, base *Baseline) (FlagEvaluation, error) {
	ev := FlagEvaluation{Flag: flag}
	log := t.logger.With("flag", flag)

	if err := t.compile(ctx, store.PhaseFlags, flag, []string{flag}, nil, ""); err != nil {
		if aborted(ctx) {
			return ev, ctx.Err()
		}
		log.Warn("flag failed to compile, skipping", "error", err)
		ev.Skipped, ev.Err = true, err
		return ev, nil
	}

	samples, err := t.draw(ctx, store.PhaseFlags, flag, t.cfg.FlagSamples)
	if err != nil {
		if aborted(ctx) {
			return ev, ctx.Err()
		}
		log.Warn("flag failed to run, skipping", "error", err)
		ev.Skipped, ev.Err = true, err
		return ev, nil
	}
	ev.Samples = samples
	ev.Mean = stats.Mean(samples)

	z, err := stats.ZTest(samples, base.Mean, base.StdDev)
	if err != nil {
		return ev, fmt.Errorf("z-test %s: %w", flag, err)
	}
	tt, err := stats.OneSampleTTest(samples, base.Mean)
	if err != nil {
		return ev, fmt.Errorf("t-test %s: %w", flag, err)
	}
	ev.Z, ev.ZPValue, ev.TPValue = z.Statistic, z.PValue, tt.PValue
	ev.Selected = FlagImproves(z, tt, t.cfg.ZThreshold, t.cfg.TThreshold)

	log.Info("flag evaluated",
		"mean", ev.Mean,
		"z", ev.Z,
		"p", ev.ZPValue,
		"t", ev.TPValue,
		"selected", ev.Selected,
	)
	return ev, nil
}

// FlagImproves is the flag decision rule: significant by either test and
// lower than the baseline.
func FlagImproves(z, t stats.TestResult, zThreshold, tThreshold float64) bool {
	return (z.PValue < zThreshold || t.PValue < tThreshold) && z.Statistic < 0
}
