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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/flagtune/pkg/logging"
	"github.com/AleutianAI/flagtune/services/tune/measure"
	"github.com/AleutianAI/flagtune/services/tune/store"
	"github.com/AleutianAI/flagtune/services/tune/tuner"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, tuner.DefaultConfig(), cfg.TunerConfig())
	assert.NoError(t, cfg.TunerConfig().Validate())
}

func TestCreateDefault_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultPath)

	require.NoError(t, CreateDefault(path))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	err = CreateDefault(path)
	assert.ErrorIs(t, err, ErrExists)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultPath)
	content := `
compiler:
  cc: clang
  timeout: 2m
bandit:
  mode: serial
  num_bins: 7
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "clang", cfg.Compiler.CC)
	assert.Equal(t, 2*time.Minute, cfg.Compiler.Timeout)
	assert.Equal(t, "main.c", cfg.Compiler.Source)
	assert.Equal(t, tuner.ModeSerial, cfg.TunerConfig().Mode)
	assert.Equal(t, 7, cfg.TunerConfig().NumBins)
	assert.Equal(t, 0.5, cfg.TunerConfig().Alpha)
	assert.Equal(t, 200, cfg.TunerConfig().Samples)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("bandit: [1, 2"), 0644))
	_, err = Load(bad)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("bandit:\n  mode: random\n"), 0644))
	_, err = Load(invalid)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "bandit.mode")
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*FlagtuneConfig)
		field  string
	}{
		{"store backend", func(c *FlagtuneConfig) { c.Workspace.Store = "sqlite" }, "workspace.store"},
		{"workspace dir", func(c *FlagtuneConfig) { c.Workspace.Dir = "" }, "workspace.dir"},
		{"template placeholder", func(c *FlagtuneConfig) { c.Compiler.Template = "{cc} -o {out} {src}" }, "compiler.template"},
		{"timeout", func(c *FlagtuneConfig) { c.Compiler.Timeout = 0 }, "compiler.timeout"},
		{"scale", func(c *FlagtuneConfig) { c.Measure.Scale = 0 }, "measure.scale"},
		{"empty event", func(c *FlagtuneConfig) { c.Measure.Events = []string{"cpu-cycles", ""} }, "measure.events[1]"},
		{"baseline samples", func(c *FlagtuneConfig) { c.Baseline.Samples = 1 }, "baseline.samples"},
		{"trim ratio", func(c *FlagtuneConfig) { c.Baseline.TrimRatio = 1.5 }, "baseline.trim_ratio"},
		{"z threshold", func(c *FlagtuneConfig) { c.Selection.ZThreshold = 1 }, "selection.z_threshold"},
		{"mode", func(c *FlagtuneConfig) { c.Bandit.Mode = "both" }, "bandit.mode"},
		{"nth choice", func(c *FlagtuneConfig) { c.Bandit.NthChoice = 0 }, "bandit.nth_choice"},
		{"compare samples", func(c *FlagtuneConfig) { c.Compare.Samples = 0 }, "compare.samples"},
		{"metrics addr", func(c *FlagtuneConfig) { c.Telemetry.MetricsAddr = "nope" }, "telemetry.metrics_addr"},
		{"trace exporter", func(c *FlagtuneConfig) { c.Telemetry.TraceExporter = "jaeger" }, "trace_exporter"},
		{"influx bucket", func(c *FlagtuneConfig) {
			c.Influx.Enabled = true
			c.Influx.Bucket = ""
		}, "influx.bucket"},
		{"log level", func(c *FlagtuneConfig) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidate_AcceptsOptionalSections(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Telemetry.MetricsAddr = "localhost:9464"
	cfg.Influx.Enabled = true
	cfg.Influx.Token = "secret"
	cfg.Measure.Events = []string{"cpu-cycles", "instructions"}
	assert.NoError(t, cfg.Validate())
}

func TestConversions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workspace.Dir = "/tmp/ws"
	cfg.Compiler.CC = "gcc-12"
	cfg.Measure.Metric = measure.MetricSize
	cfg.Measure.RunCommand = []string{"./a.out", "--quick"}
	cfg.Log.Level = "debug"
	cfg.Log.JSON = true

	gcc := cfg.GCCConfig()
	assert.Equal(t, "gcc-12", gcc.CC)
	assert.Equal(t, measure.MetricSize, gcc.Metric)
	assert.Equal(t, 1000.0, gcc.Scale)
	assert.Equal(t, []string{"./a.out", "--quick"}, gcc.RunCommand)

	lc := cfg.LoggingConfig()
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, filepath.Join("/tmp/ws", "logs"), lc.LogDir)
	assert.Equal(t, "flagtune", lc.Service)
	assert.True(t, lc.JSON)

	assert.Equal(t, filepath.Join("/tmp/ws", "db"), cfg.BadgerPath())
}

func TestOpenStore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workspace.Dir = t.TempDir()

	st, err := cfg.OpenStore(logging.Nop())
	require.NoError(t, err)
	assert.IsType(t, &store.FileStore{}, st)
	require.NoError(t, st.Close())

	cfg.Workspace.Store = "badger"
	st, err = cfg.OpenStore(logging.Nop())
	require.NoError(t, err)
	defer st.Close()
	assert.IsType(t, &store.BadgerStore{}, st)
	assert.DirExists(t, cfg.BadgerPath())
}
