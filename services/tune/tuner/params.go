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

	"github.com/AleutianAI/flagtune/services/tune/measure"
	"github.com/AleutianAI/flagtune/services/tune/stats"
	"github.com/AleutianAI/flagtune/services/tune/store"
	"github.com/AleutianAI/flagtune/services/tune/telemetry"
)

// leveneAlpha decides between the pooled and the Welch t-test.
const leveneAlpha = 0.05

// SelectParameters keeps the parameters whose extreme values change the
// objective.
//
// # Description
//
// On top of the selected flags, every parameter is compiled at its Min and
// at its Max and measured ParamSamples times each. Levene's test picks the
// pooled t-test when the spreads agree (p > 0.05) and Welch's otherwise.
// The parameter is selected iff the t-test p-value is below TThreshold.
// There is no direction requirement. A compile or run failure at either
// extreme skips the parameter.
//
// # Outputs
//
//   - []string: Selected parameter names in candidate order, which is the
//     order the serial bandit tunes them in.
//   - error: *PreconditionError when no flag selection is persisted.
func (t *Tuner) SelectParameters(ctx context.Context, candidates []measure.Parameter) ([]string, error) {
	ctx, run := t.startPhase(ctx, store.PhaseParameters, attribute.Int("candidates", len(candidates)))

	done, err := t.completed(ctx, store.PhaseParameters)
	if err != nil {
		return nil, run.end(ctx, err)
	}
	if done {
		params, err := t.store.LoadParameters(ctx)
		if err != nil {
			return nil, run.end(ctx, fmt.Errorf("load parameters: %w", err))
		}
		run.skip(ctx)
		return params, nil
	}

	if err := t.require(ctx, store.PhaseParameters, store.PhaseFlags); err != nil {
		return nil, run.end(ctx, err)
	}
	flags, err := t.store.LoadFlags(ctx)
	if err != nil {
		return nil, run.end(ctx, fmt.Errorf("load flags: %w", err))
	}

	selected := make([]string, 0)
	for i, p := range candidates {
		ev, err := t.evaluateParameter(ctx, flags, p)
		if err != nil {
			return nil, run.end(ctx, err)
		}
		ev.Index, ev.Total = i, len(candidates)
		t.observer.OnParameterEvaluated(ctx, ev)
		if ev.Selected {
			selected = append(selected, p.Name)
			telemetry.AddSpanEvent(run.span, "parameter_selected", attribute.String("parameter", p.Name))
		}
	}

	if err := t.store.SaveParameters(ctx, selected); err != nil {
		return nil, run.end(ctx, fmt.Errorf("save parameters: %w", err))
	}
	t.logger.Info("parameters selected", "selected", len(selected), "candidates", len(candidates))
	return selected, run.end(ctx, nil)
}

func (t *Tuner) evaluateParameter(ctx context.Context, flags []string, p measure.Parameter) (ParameterEvaluation, error) {
	ev := ParameterEvaluation{Parameter: p.Name}
	log := t.logger.With("parameter", p.Name)

	if err := p.Validate(); err != nil {
		log.Warn("invalid parameter domain, skipping", "error", err)
		ev.Skipped, ev.Err = true, err
		return ev, nil
	}

	var extremes [2][]float64
	for i, v := range []int{p.Min, p.Max} {
		setting := measure.Setting{Name: p.Name, Value: v}
		label := setting.String()
		if err := t.compile(ctx, store.PhaseParameters, label, flags, []measure.Setting{setting}, ""); err != nil {
			if aborted(ctx) {
				return ev, ctx.Err()
			}
			log.Warn("parameter failed to compile, skipping", "value", v, "error", err)
			ev.Skipped, ev.Err = true, err
			return ev, nil
		}
		samples, err := t.draw(ctx, store.PhaseParameters, label, t.cfg.ParamSamples)
		if err != nil {
			if aborted(ctx) {
				return ev, ctx.Err()
			}
			log.Warn("parameter failed to run, skipping", "value", v, "error", err)
			ev.Skipped, ev.Err = true, err
			return ev, nil
		}
		extremes[i] = samples
	}

	decision, err := CompareExtremes(extremes[0], extremes[1], t.cfg.TThreshold)
	if err != nil {
		return ev, fmt.Errorf("test %s: %w", p.Name, err)
	}
	ev.MinMean = stats.Mean(extremes[0])
	ev.MaxMean = stats.Mean(extremes[1])
	ev.LevenePValue = decision.Levene.PValue
	ev.EqualVar = decision.EqualVar
	ev.T = decision.T.Statistic
	ev.TPValue = decision.T.PValue
	ev.Selected = decision.Selected

	log.Info("parameter evaluated",
		"min_mean", ev.MinMean,
		"max_mean", ev.MaxMean,
		"levene_p", ev.LevenePValue,
		"equal_var", ev.EqualVar,
		"t", ev.T,
		"p", ev.TPValue,
		"selected", ev.Selected,
	)
	return ev, nil
}

// ExtremesDecision is the outcome of CompareExtremes.
type ExtremesDecision struct {
	Levene   stats.TestResult
	EqualVar bool
	T        stats.TestResult
	Selected bool
}

// CompareExtremes runs the parameter decision on the samples taken at the
// two ends of a parameter's range. It is a pure function of its inputs.
func CompareExtremes(atMin, atMax []float64, tThreshold float64) (ExtremesDecision, error) {
	var d ExtremesDecision
	var err error

	d.Levene, err = stats.Levene(atMin, atMax)
	if err != nil {
		return d, fmt.Errorf("levene: %w", err)
	}
	d.EqualVar = d.Levene.PValue > leveneAlpha
	d.T, err = stats.TwoSampleTTest(atMin, atMax, d.EqualVar)
	if err != nil {
		return d, fmt.Errorf("t-test: %w", err)
	}
	d.Selected = d.T.PValue < tThreshold
	return d, nil
}
