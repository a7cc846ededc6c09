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
	"time"

	"github.com/AleutianAI/flagtune/services/tune/measure"
	"github.com/AleutianAI/flagtune/services/tune/store"
)

// PhaseState is the lifecycle step reported by OnPhase.
type PhaseState string

const (
	PhaseStarted   PhaseState = "started"
	PhaseSkipped   PhaseState = "skipped"
	PhaseCompleted PhaseState = "completed"
	PhaseFailed    PhaseState = "failed"
)

// PhaseEvent is emitted when a phase starts or ends.
type PhaseEvent struct {
	Phase    store.Phase
	State    PhaseState
	Duration time.Duration
	Err      error
}

// CompileEvent is emitted after every compile.
type CompileEvent struct {
	Phase store.Phase
	Label string
	Err   error
}

// SampleEvent is emitted for every kept measurement.
type SampleEvent struct {
	Phase store.Phase
	Label string
	Index int
	Value float64
}

// FlagEvaluation is the decision for one candidate flag.
type FlagEvaluation struct {
	Flag     string
	Index    int
	Total    int
	Samples  []float64
	Mean     float64
	Z        float64
	ZPValue  float64
	TPValue  float64
	Selected bool

	// Skipped is set when the flag could not be measured; Err says why.
	Skipped bool
	Err     error
}

// ParameterEvaluation is the decision for one candidate parameter.
type ParameterEvaluation struct {
	Parameter    string
	Index        int
	Total        int
	MinMean      float64
	MaxMean      float64
	LevenePValue float64
	EqualVar     bool
	T            float64
	TPValue      float64
	Selected     bool
	Skipped      bool
	Err          error
}

// BanditRound describes one compile-run-update cycle.
type BanditRound struct {
	Epoch int
	Total int

	// Parameter is the arm being tuned in serial mode, empty in parallel.
	Parameter  string
	Assignment []measure.Setting
	Objective  float64
	Reward     float64
	Skipped    bool
	Err        error
}

// Observer receives tuning events. Calls happen synchronously on the
// tuning goroutine, so implementations should return quickly.
type Observer interface {
	OnPhase(ctx context.Context, ev PhaseEvent)
	OnCompile(ctx context.Context, ev CompileEvent)
	OnSample(ctx context.Context, ev SampleEvent)
	OnBaseline(ctx context.Context, b *Baseline)
	OnFlagEvaluated(ctx context.Context, ev FlagEvaluation)
	OnParameterEvaluated(ctx context.Context, ev ParameterEvaluation)
	OnBanditRound(ctx context.Context, ev BanditRound)
	OnCompare(ctx context.Context, r *Report)
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) OnPhase(context.Context, PhaseEvent)                       {}
func (NopObserver) OnCompile(context.Context, CompileEvent)                   {}
func (NopObserver) OnSample(context.Context, SampleEvent)                     {}
func (NopObserver) OnBaseline(context.Context, *Baseline)                     {}
func (NopObserver) OnFlagEvaluated(context.Context, FlagEvaluation)           {}
func (NopObserver) OnParameterEvaluated(context.Context, ParameterEvaluation) {}
func (NopObserver) OnBanditRound(context.Context, BanditRound)                {}
func (NopObserver) OnCompare(context.Context, *Report)                        {}

// MultiObserver fans every event out to its members in order.
type MultiObserver []Observer

func (m MultiObserver) OnPhase(ctx context.Context, ev PhaseEvent) {
	for _, o := range m {
		o.OnPhase(ctx, ev)
	}
}

func (m MultiObserver) OnCompile(ctx context.Context, ev CompileEvent) {
	for _, o := range m {
		o.OnCompile(ctx, ev)
	}
}

func (m MultiObserver) OnSample(ctx context.Context, ev SampleEvent) {
	for _, o := range m {
		o.OnSample(ctx, ev)
	}
}

func (m MultiObserver) OnBaseline(ctx context.Context, b *Baseline) {
	for _, o := range m {
		o.OnBaseline(ctx, b)
	}
}

func (m MultiObserver) OnFlagEvaluated(ctx context.Context, ev FlagEvaluation) {
	for _, o := range m {
		o.OnFlagEvaluated(ctx, ev)
	}
}

func (m MultiObserver) OnParameterEvaluated(ctx context.Context, ev ParameterEvaluation) {
	for _, o := range m {
		o.OnParameterEvaluated(ctx, ev)
	}
}

func (m MultiObserver) OnBanditRound(ctx context.Context, ev BanditRound) {
	for _, o := range m {
		o.OnBanditRound(ctx, ev)
	}
}

func (m MultiObserver) OnCompare(ctx context.Context, r *Report) {
	for _, o := range m {
		o.OnCompare(ctx, r)
	}
}
