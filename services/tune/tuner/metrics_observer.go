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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/flagtune/services/tune/store"
	"github.com/AleutianAI/flagtune/services/tune/telemetry"
)

// MetricsObserver records tuning events on OpenTelemetry instruments.
type MetricsObserver struct {
	NopObserver
	m *telemetry.Metrics
}

// NewMetricsObserver wraps m.
func NewMetricsObserver(m *telemetry.Metrics) *MetricsObserver {
	return &MetricsObserver{m: m}
}

func (o *MetricsObserver) OnPhase(ctx context.Context, ev PhaseEvent) {
	if ev.State == PhaseStarted {
		return
	}
	o.m.PhaseDuration.Record(ctx, ev.Duration.Seconds(), metric.WithAttributes(
		phaseAttr(ev.Phase),
		attribute.String("state", string(ev.State)),
	))
}

func (o *MetricsObserver) OnCompile(ctx context.Context, ev CompileEvent) {
	o.m.CompilesTotal.Add(ctx, 1, metric.WithAttributes(phaseAttr(ev.Phase), statusAttr(ev.Err)))
}

func (o *MetricsObserver) OnSample(ctx context.Context, ev SampleEvent) {
	attrs := metric.WithAttributes(phaseAttr(ev.Phase))
	o.m.RunsTotal.Add(ctx, 1, attrs)
	o.m.Measurement.Record(ctx, ev.Value, attrs)
}

func (o *MetricsObserver) OnFlagEvaluated(ctx context.Context, ev FlagEvaluation) {
	o.m.CandidatesTotal.Add(ctx, 1, metric.WithAttributes(
		phaseAttr(store.PhaseFlags),
		decisionAttr(ev.Selected, ev.Skipped),
	))
}

func (o *MetricsObserver) OnParameterEvaluated(ctx context.Context, ev ParameterEvaluation) {
	o.m.CandidatesTotal.Add(ctx, 1, metric.WithAttributes(
		phaseAttr(store.PhaseParameters),
		decisionAttr(ev.Selected, ev.Skipped),
	))
}

func (o *MetricsObserver) OnBanditRound(ctx context.Context, ev BanditRound) {
	o.m.BanditRoundsTotal.Add(ctx, 1, metric.WithAttributes(statusAttr(ev.Err)))
	if !ev.Skipped {
		o.m.BanditReward.Record(ctx, ev.Reward)
	}
}

func (o *MetricsObserver) OnCompare(ctx context.Context, r *Report) {
	for _, e := range r.Entries {
		if e.Failed {
			continue
		}
		o.m.Score.Record(ctx, e.Score, metric.WithAttributes(attribute.String("config", e.Name)))
	}
}

func phaseAttr(p store.Phase) attribute.KeyValue {
	return attribute.String("phase", string(p))
}

func statusAttr(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("status", "error")
	}
	return attribute.String("status", "ok")
}

func decisionAttr(selected, skipped bool) attribute.KeyValue {
	switch {
	case skipped:
		return attribute.String("decision", "skipped")
	case selected:
		return attribute.String("decision", "selected")
	}
	return attribute.String("decision", "rejected")
}
