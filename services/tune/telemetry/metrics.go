// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains the instruments of a tuning run.
//
// All metrics use the "flagtune_" prefix. Attributes:
//   - phase: baseline, flags, parameters, bandit, compare
//   - status: ok, error
//   - decision: selected, rejected, skipped
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// CompilesTotal counts compile invocations by phase and status.
	CompilesTotal metric.Int64Counter

	// RunsTotal counts measured executions by phase and status.
	RunsTotal metric.Int64Counter

	// Measurement records objective values by phase.
	Measurement metric.Float64Histogram

	// CandidatesTotal counts flag and parameter decisions.
	CandidatesTotal metric.Int64Counter

	// BanditRoundsTotal counts completed bandit rounds.
	BanditRoundsTotal metric.Int64Counter

	// BanditReward records the reward of each bandit round.
	BanditReward metric.Float64Histogram

	// PhaseDuration records phase wall time in seconds.
	PhaseDuration metric.Float64Histogram

	// Score records the normalized comparison score per configuration.
	Score metric.Float64Gauge
}

// NewMetrics registers every instrument with meter.
//
// Example:
//
//	metrics, err := telemetry.NewMetrics(otel.Meter("flagtune"))
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
//	metrics.CompilesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", "flags")))
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.CompilesTotal, err = meter.Int64Counter(
		"flagtune_compiles_total",
		metric.WithDescription("Total compile invocations"),
		metric.WithUnit("{compile}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create compiles_total: %w", err)
	}

	m.RunsTotal, err = meter.Int64Counter(
		"flagtune_runs_total",
		metric.WithDescription("Total measured executions"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create runs_total: %w", err)
	}

	m.Measurement, err = meter.Float64Histogram(
		"flagtune_measurement",
		metric.WithDescription("Objective value of a single measurement"),
	)
	if err != nil {
		return nil, fmt.Errorf("create measurement: %w", err)
	}

	m.CandidatesTotal, err = meter.Int64Counter(
		"flagtune_candidates_total",
		metric.WithDescription("Flag and parameter decisions"),
		metric.WithUnit("{candidate}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create candidates_total: %w", err)
	}

	m.BanditRoundsTotal, err = meter.Int64Counter(
		"flagtune_bandit_rounds_total",
		metric.WithDescription("Completed bandit rounds"),
		metric.WithUnit("{round}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create bandit_rounds_total: %w", err)
	}

	m.BanditReward, err = meter.Float64Histogram(
		"flagtune_bandit_reward",
		metric.WithDescription("Reward observed per bandit round"),
		metric.WithExplicitBucketBoundaries(-10, -1, -0.1, -0.01, 0, 0.01, 0.1, 1, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create bandit_reward: %w", err)
	}

	m.PhaseDuration, err = meter.Float64Histogram(
		"flagtune_phase_duration_seconds",
		metric.WithDescription("Tuning phase duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 10, 60, 300, 900, 3600, 14400, 43200),
	)
	if err != nil {
		return nil, fmt.Errorf("create phase_duration: %w", err)
	}

	m.Score, err = meter.Float64Gauge(
		"flagtune_score",
		metric.WithDescription("Normalized comparison score per configuration"),
	)
	if err != nil {
		return nil, fmt.Errorf("create score: %w", err)
	}

	return m, nil
}
