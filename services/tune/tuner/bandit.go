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

	"github.com/AleutianAI/flagtune/services/tune/linucb"
	"github.com/AleutianAI/flagtune/services/tune/measure"
	"github.com/AleutianAI/flagtune/services/tune/stats"
	"github.com/AleutianAI/flagtune/services/tune/store"
)

// OptimizeBandit chooses a value for every selected parameter with LinUCB.
//
// # Description
//
// The selected flags are compiled once to read the initial performance
// counters, which fix the feature space, and to measure the reward
// baseline as the mean of BanditSamples runs. Every selected parameter
// gets an arm over NumBins evenly spaced values of its domain.
//
// In parallel mode each of NumEpochs rounds lets every arm recommend on
// the current context, compiles the joint assignment, refreshes the
// context from the counters, runs once and updates every arm with
// (baseline - objective) / RewardScale.
//
// In serial mode the parameters are tuned in selection order, NumEpochs
// rounds each. Round assignments hold the earlier parameters at their
// final choice, the current one at its recommendation, and omit the rest.
// Only the current arm is updated. Serial arms always take the best score,
// so NthChoice applies to parallel mode only.
//
// A round whose compile, counters or run fail is skipped without update,
// and the values it tried are excluded from later recommendations.
//
// # Inputs
//
//   - domains: Range of every selected parameter, keyed by name.
//
// # Outputs
//
//   - []measure.Setting: The final value per selected parameter, in
//     selection order: the value of its last successful round, or its
//     default when none succeeded. A persisted assignment is returned
//     without compiling.
//   - error: *ConfigurationError for an invalid mode, NumBins > NumEpochs,
//     a missing domain or a measurer without performance counters;
//     *PreconditionError without persisted flags or parameters.
func (t *Tuner) OptimizeBandit(ctx context.Context, domains map[string]measure.Parameter) ([]measure.Setting, error) {
	ctx, run := t.startPhase(ctx, store.PhaseBandit,
		attribute.String("mode", t.cfg.Mode.String()),
		attribute.Int("num_bins", t.cfg.NumBins),
		attribute.Int("num_epochs", t.cfg.NumEpochs),
	)

	if err := t.cfg.validateBandit(); err != nil {
		return nil, run.end(ctx, err)
	}

	done, err := t.completed(ctx, store.PhaseBandit)
	if err != nil {
		return nil, run.end(ctx, err)
	}
	if done {
		assignment, err := t.store.LoadAssignment(ctx)
		if err != nil {
			return nil, run.end(ctx, fmt.Errorf("load assignment: %w", err))
		}
		run.skip(ctx)
		return assignment, nil
	}

	for _, dep := range []store.Phase{store.PhaseFlags, store.PhaseParameters} {
		if err := t.require(ctx, store.PhaseBandit, dep); err != nil {
			return nil, run.end(ctx, err)
		}
	}
	flags, err := t.store.LoadFlags(ctx)
	if err != nil {
		return nil, run.end(ctx, fmt.Errorf("load flags: %w", err))
	}
	names, err := t.store.LoadParameters(ctx)
	if err != nil {
		return nil, run.end(ctx, fmt.Errorf("load parameters: %w", err))
	}

	params := make([]measure.Parameter, len(names))
	for i, name := range names {
		p, ok := domains[name]
		if !ok {
			return nil, run.end(ctx, configError("domains", "no range for selected parameter %q", name))
		}
		p.Name = name
		if err := p.Validate(); err != nil {
			return nil, run.end(ctx, configError("domains", "%v", err))
		}
		params[i] = p
	}

	assignment := make([]measure.Setting, 0, len(params))
	if len(params) > 0 {
		assignment, err = t.optimize(ctx, flags, params)
		if err != nil {
			return nil, run.end(ctx, err)
		}
	}

	if err := t.store.SaveAssignment(ctx, assignment); err != nil {
		return nil, run.end(ctx, fmt.Errorf("save assignment: %w", err))
	}
	t.logger.Info("parameters optimized", "assignment", assignment)
	return assignment, run.end(ctx, nil)
}

// banditState is the data shared by the rounds of one bandit phase.
type banditState struct {
	flags     []string
	params    []measure.Parameter
	space     FeatureSpace
	context   []float64
	objective float64
	bandit    *linucb.Bandit
}

func (t *Tuner) optimize(ctx context.Context, flags []string, params []measure.Parameter) ([]measure.Setting, error) {
	if err := t.compile(ctx, store.PhaseBandit, "flags", flags, nil, ""); err != nil {
		return nil, fmt.Errorf("compile selected flags: %w", err)
	}
	counters, err := t.measurer.FetchPerf(ctx)
	if err != nil {
		if errors.Is(err, measure.ErrPerfUnavailable) {
			return nil, configError("measurer", "performance counters are required for the bandit phase")
		}
		return nil, fmt.Errorf("read performance counters: %w", err)
	}
	if len(counters) == 0 {
		return nil, configError("measurer", "no performance counters reported")
	}

	st := &banditState{flags: flags, params: params, space: NewFeatureSpace(counters)}
	if st.context, err = st.space.Vector(counters); err != nil {
		return nil, err
	}
	samples, err := t.draw(ctx, store.PhaseBandit, "flags", t.cfg.BanditSamples)
	if err != nil {
		return nil, fmt.Errorf("measure reward baseline: %w", err)
	}
	st.objective = stats.Mean(samples)

	domains := make([]linucb.Domain, len(params))
	for i, p := range params {
		domains[i] = linucb.Domain{Name: p.Name, Values: linucb.Discretize(p.Min, p.Max, t.cfg.NumBins)}
	}
	nth := t.cfg.NthChoice
	if t.cfg.Mode == ModeSerial {
		nth = 1
	}
	st.bandit, err = linucb.NewBandit(st.space.Dim(), domains,
		linucb.WithAlpha(t.cfg.Alpha),
		linucb.WithNthChoice(nth),
		linucb.WithRand(t.rng),
	)
	if err != nil {
		return nil, err
	}

	t.logger.Info("bandit started",
		"mode", t.cfg.Mode,
		"parameters", len(params),
		"features", st.space.Keys(),
		"baseline", st.objective,
	)

	if t.cfg.Mode == ModeSerial {
		return t.optimizeSerial(ctx, st)
	}
	return t.optimizeParallel(ctx, st)
}

func (t *Tuner) optimizeParallel(ctx context.Context, st *banditState) ([]measure.Setting, error) {
	b := st.bandit
	for epoch := 0; epoch < t.cfg.NumEpochs; epoch++ {
		values, err := b.RecommendAll(st.context)
		if err != nil {
			return nil, err
		}
		assignment := make([]measure.Setting, b.Len())
		for i, v := range values {
			assignment[i] = measure.Setting{Name: b.Name(i), Value: v}
		}

		ev := BanditRound{Epoch: epoch, Total: t.cfg.NumEpochs, Assignment: assignment}
		reward, ok, err := t.banditRound(ctx, st, &ev)
		if err != nil {
			return nil, err
		}
		if ok {
			err = b.UpdateAll(reward)
		} else {
			err = b.RejectAll()
		}
		if err != nil {
			return nil, err
		}
		t.observer.OnBanditRound(ctx, ev)
	}

	out := make([]measure.Setting, b.Len())
	for i := range out {
		out[i] = finalChoice(b.Arm(i), st.params[i])
	}
	return out, nil
}

func (t *Tuner) optimizeSerial(ctx context.Context, st *banditState) ([]measure.Setting, error) {
	b := st.bandit
	fixed := make([]measure.Setting, 0, b.Len())
	total := t.cfg.NumEpochs * b.Len()

	for k := 0; k < b.Len(); k++ {
		arm := b.Arm(k)
		t.logger.Info("tuning parameter", "parameter", b.Name(k), "position", k+1, "of", b.Len())

		for epoch := 0; epoch < t.cfg.NumEpochs; epoch++ {
			v, err := arm.Recommend(st.context)
			if err != nil {
				return nil, err
			}
			assignment := make([]measure.Setting, 0, k+1)
			assignment = append(assignment, fixed...)
			assignment = append(assignment, measure.Setting{Name: b.Name(k), Value: v})

			ev := BanditRound{
				Epoch:      k*t.cfg.NumEpochs + epoch,
				Total:      total,
				Parameter:  b.Name(k),
				Assignment: assignment,
			}
			reward, ok, err := t.banditRound(ctx, st, &ev)
			if err != nil {
				return nil, err
			}
			if ok {
				err = arm.Update(reward)
			} else {
				err = arm.Reject()
			}
			if err != nil {
				return nil, err
			}
			t.observer.OnBanditRound(ctx, ev)
		}
		fixed = append(fixed, finalChoice(arm, st.params[k]))
	}
	return fixed, nil
}

// banditRound compiles ev.Assignment, refreshes the context and measures
// once. ok is false when the round must be skipped; err is non-nil only
// when the phase must stop.
func (t *Tuner) banditRound(ctx context.Context, st *banditState, ev *BanditRound) (reward float64, ok bool, err error) {
	skip := func(stage string, cause error) (float64, bool, error) {
		if aborted(ctx) {
			return 0, false, ctx.Err()
		}
		t.logger.Warn("bandit round skipped", "epoch", ev.Epoch, "stage", stage, "assignment", ev.Assignment, "error", cause)
		ev.Skipped, ev.Err = true, cause
		return 0, false, nil
	}

	if err := t.compile(ctx, store.PhaseBandit, ev.Parameter, st.flags, ev.Assignment, ""); err != nil {
		return skip("compile", err)
	}
	counters, err := t.measurer.FetchPerf(ctx)
	if err != nil {
		return skip("perf", err)
	}
	vec, err := st.space.Vector(counters)
	if err != nil {
		return skip("perf", err)
	}
	objective, err := t.measurer.Run(ctx)
	if err != nil {
		return skip("run", err)
	}
	t.observer.OnSample(ctx, SampleEvent{Phase: store.PhaseBandit, Label: ev.Parameter, Index: ev.Epoch, Value: objective})

	st.context = vec
	ev.Objective = objective
	ev.Reward = (st.objective - objective) / t.cfg.RewardScale
	t.logger.Debug("bandit round",
		"epoch", ev.Epoch,
		"assignment", ev.Assignment,
		"objective", objective,
		"reward", ev.Reward,
	)
	return ev.Reward, true, nil
}

// finalChoice is the value of the arm's last successful round, or the
// default when every round failed.
func finalChoice(arm *linucb.Arm, p measure.Parameter) measure.Setting {
	if _, v, ok := arm.Settled(); ok {
		return measure.Setting{Name: p.Name, Value: v}
	}
	return measure.Setting{Name: p.Name, Value: p.Default}
}
