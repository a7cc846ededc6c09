// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"time"

	"github.com/AleutianAI/flagtune/services/tune/sink"
	"github.com/AleutianAI/flagtune/services/tune/telemetry"
)

// FlagtuneConfig is the content of flagtune.yaml.
type FlagtuneConfig struct {
	// Workspace: where phase results, logs and the lock live
	Workspace WorkspaceConfig `yaml:"workspace"`

	// Compiler: the program under tuning and how to build it
	Compiler CompilerConfig `yaml:"compiler"`

	// Measure: the objective and the perf counters used as features
	Measure MeasureConfig `yaml:"measure"`

	Baseline  BaselineConfig  `yaml:"baseline"`
	Selection SelectionConfig `yaml:"selection"`
	Bandit    BanditConfig    `yaml:"bandit"`
	Compare   CompareConfig   `yaml:"compare"`

	// Telemetry: traces, metrics and the optional status server
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Influx: optional time-series sink for samples and rewards
	Influx sink.Config `yaml:"influx"`

	Log LogConfig `yaml:"log"`
}

type WorkspaceConfig struct {
	Dir   string `yaml:"dir" validate:"required"`                     // e.g. tuning
	Store string `yaml:"store" validate:"required,oneof=file badger"` // file keeps plain text artifacts
}

type CompilerConfig struct {
	CC           string        `yaml:"cc" validate:"required"`                // e.g. gcc-12
	Source       string        `yaml:"source" validate:"required"`            // e.g. "main.c util.c"
	Output       string        `yaml:"output" validate:"required"`            // e.g. a.out
	Template     string        `yaml:"template" validate:"required,template"` // must contain {options}
	Base         string        `yaml:"base"`                                  // e.g. -O3
	ParamsDef    string        `yaml:"params_def,omitempty"`                  // path to gcc's params.def
	ExcludeFlags []string      `yaml:"exclude_flags"`                         // never tested
	Timeout      time.Duration `yaml:"timeout" validate:"gt=0"`               // per command
}

type MeasureConfig struct {
	Metric      string   `yaml:"metric" validate:"required"`      // duration_time, size or a perf event
	Scale       float64  `yaml:"scale" validate:"gt=0"`           // perf values are divided by this
	Events      []string `yaml:"events" validate:"dive,required"` // empty selects the built-in list
	RunCommand  []string `yaml:"run_command,omitempty"`           // defaults to ./<output>
	DisablePerf bool     `yaml:"disable_perf"`
}

type BaselineConfig struct {
	Warmup     int     `yaml:"warmup" validate:"gte=0"`
	Samples    int     `yaml:"samples" validate:"gte=2"`
	Symmetrize bool    `yaml:"symmetrize"`
	TrimRatio  float64 `yaml:"trim_ratio" validate:"gt=0,lte=1"`
}

type SelectionConfig struct {
	FlagSamples  int     `yaml:"flag_samples" validate:"gte=2"`
	ParamSamples int     `yaml:"param_samples" validate:"gte=2"`
	ZThreshold   float64 `yaml:"z_threshold" validate:"gt=0,lt=1"`
	TThreshold   float64 `yaml:"t_threshold" validate:"gt=0,lt=1"`
}

type BanditConfig struct {
	Alpha       float64 `yaml:"alpha" validate:"gte=0"`
	NumBins     int     `yaml:"num_bins" validate:"gte=1"`
	NumEpochs   int     `yaml:"num_epochs" validate:"gte=0"`
	Samples     int     `yaml:"samples" validate:"gte=1"`
	Mode        string  `yaml:"mode" validate:"oneof=parallel serial"`
	NthChoice   int     `yaml:"nth_choice" validate:"gte=1"`
	RewardScale float64 `yaml:"reward_scale" validate:"gt=0"`
	Seed        uint64  `yaml:"seed"` // 0 picks a random seed
}

type CompareConfig struct {
	Samples int `yaml:"samples" validate:"gte=1"`
}

type TelemetryConfig struct {
	telemetry.Config `yaml:",inline"`

	// MetricsAddr serves /metrics, /status and /healthz when set.
	MetricsAddr string `yaml:"metrics_addr,omitempty" validate:"omitempty,hostname_port"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
	Quiet bool   `yaml:"quiet"`
}
