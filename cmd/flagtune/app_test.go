// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/flagtune/cmd/flagtune/config"
	"github.com/AleutianAI/flagtune/cmd/flagtune/internal/process"
	"github.com/AleutianAI/flagtune/pkg/logging"
	"github.com/AleutianAI/flagtune/pkg/ux"
	"github.com/AleutianAI/flagtune/services/tune/measure"
	"github.com/AleutianAI/flagtune/services/tune/store"
	"github.com/AleutianAI/flagtune/services/tune/tuner"
)

// -----------------------------------------------------------------------------
// Test helpers
// -----------------------------------------------------------------------------

const (
	optimizersHelp = `The following options control optimizations:
  -faggressive-loop-optimizations Aggressively optimize loops.
  -fgcse-sm                   Perform store motion after global common
  -funroll-loops              Perform loop unrolling when iteration count is
`
	enabledHelp = `The following options control optimizations:
  -faggressive-loop-optimizations 	[enabled]
  -fgcse-sm                   		[disabled]
  -funroll-loops              		[disabled]
`
	paramsHelp = `The --param option recognizes the following as parameters:
  --param=align-loop-iterations=<0,65536> 	4
  --param=max-unroll-times=<0,65536> 		8
`
)

// fakeCompiler answers the discovery queries of a gcc 12 driver.
func fakeCompiler() *measure.MockRunner {
	return &measure.MockRunner{
		RunFunc: func(_ context.Context, _ string, args ...string) (measure.Output, error) {
			switch {
			case slices.Contains(args, "--version"):
				return measure.Output{Stdout: []byte("gcc (GCC) 12.2.0\n")}, nil
			case slices.Contains(args, "--help=params"):
				return measure.Output{Stdout: []byte(paramsHelp)}, nil
			case slices.Contains(args, "-Q"):
				return measure.Output{Stdout: []byte(enabledHelp)}, nil
			default:
				return measure.Output{Stdout: []byte(optimizersHelp)}, nil
			}
		},
	}
}

// fakeProgram measures 98..102 in a fixed cycle. -funroll-loops takes 10
// off every run and max-unroll-times above 100 adds 20.
func fakeProgram() *measure.MockMeasurer {
	m := &measure.MockMeasurer{}
	n := 0
	m.RunFunc = func(context.Context) (float64, error) {
		v := 98 + float64(n%5)
		n++
		last := m.Last()
		if slices.Contains(last.Flags, "-funroll-loops") {
			v -= 10
		}
		for _, s := range last.Params {
			if s.Name == "max-unroll-times" && s.Value > 100 {
				v += 20
			}
		}
		return v, nil
	}
	m.PerfFunc = func(context.Context) (map[string]float64, error) {
		return map[string]float64{"cycles": 1200, "instructions": 2400}, nil
	}
	return m
}

func testConfig(t *testing.T) config.FlagtuneConfig {
	t.Helper()
	c := config.DefaultConfig()
	c.Workspace.Dir = t.TempDir()
	c.Telemetry.TraceExporter = "none"
	c.Telemetry.MetricExporter = "none"
	c.Baseline.Warmup = 0
	c.Baseline.Samples = 20
	c.Baseline.Symmetrize = false
	c.Baseline.TrimRatio = 0.8
	c.Selection.FlagSamples = 5
	c.Selection.ParamSamples = 5
	c.Bandit.NumBins = 3
	c.Bandit.NumEpochs = 4
	c.Bandit.Samples = 2
	c.Bandit.Seed = 42
	c.Compare.Samples = 5
	return c
}

func newTestApp(t *testing.T, c config.FlagtuneConfig, m measure.Measurer, out *bytes.Buffer) *app {
	t.Helper()
	a, err := newApp(context.Background(), c, deps{
		out:      out,
		mode:     ux.ModeMachine,
		runner:   fakeCompiler(),
		measurer: m,
		logger:   logging.Nop(),
	})
	require.NoError(t, err)
	return a
}

// -----------------------------------------------------------------------------
// End to end
// -----------------------------------------------------------------------------

func TestTune_EndToEnd(t *testing.T) {
	c := testConfig(t)
	m := fakeProgram()
	var out bytes.Buffer
	a := newTestApp(t, c, m, &out)
	defer a.Close()
	ctx := context.Background()

	require.NoError(t, runTune(ctx, a))

	flags, err := a.store.LoadFlags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"-funroll-loops"}, flags)

	params, err := a.store.LoadParameters(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"max-unroll-times"}, params)

	assignment, err := a.store.LoadAssignment(ctx)
	require.NoError(t, err)
	require.Len(t, assignment, 1)
	assert.Equal(t, "max-unroll-times", assignment[0].Name)
	assert.Contains(t, []int{0, 32768, 65536}, assignment[0].Value)

	statuses, err := a.tuner.Status(ctx)
	require.NoError(t, err)
	for _, p := range store.Phases {
		assert.Equal(t, store.Completed, statuses[p], "phase %s", p)
	}

	_, err = os.Stat(filepath.Join(c.Workspace.Dir, "result.csv"))
	assert.NoError(t, err)
	assert.Contains(t, out.String(), "Optimizers\t")
	assert.Contains(t, out.String(), "phase\tcompare\tcompleted")
}

func TestTune_ResumesWithoutCompiling(t *testing.T) {
	c := testConfig(t)
	ctx := context.Background()

	first := newTestApp(t, c, fakeProgram(), &bytes.Buffer{})
	require.NoError(t, runTune(ctx, first))
	require.NoError(t, first.Close())

	m := fakeProgram()
	var out bytes.Buffer
	second := newTestApp(t, c, m, &out)
	defer second.Close()

	require.NoError(t, runTune(ctx, second))
	assert.Zero(t, m.CompileCount())
	assert.Zero(t, m.RunCount())
	assert.Contains(t, out.String(), "phase\tbaseline\tskipped")
	assert.Contains(t, out.String(), "Parameters\t")
}

func TestPhaseCommands_InOrder(t *testing.T) {
	c := testConfig(t)
	var out bytes.Buffer
	a := newTestApp(t, c, fakeProgram(), &out)
	defer a.Close()
	ctx := context.Background()

	require.NoError(t, runBaseline(ctx, a))
	require.NoError(t, runFlags(ctx, a))
	require.NoError(t, runParams(ctx, a))
	require.NoError(t, runBandit(ctx, a))
	require.NoError(t, runCompare(ctx, a))

	text := out.String()
	assert.Contains(t, text, "-funroll-loops\n")
	assert.Contains(t, text, "max-unroll-times\n")
	assert.Contains(t, text, "O2\t")
}

func TestPhaseCommands_Precondition(t *testing.T) {
	a := newTestApp(t, testConfig(t), fakeProgram(), &bytes.Buffer{})
	defer a.Close()

	err := runFlags(context.Background(), a)
	assert.ErrorIs(t, err, tuner.ErrPrecondition)
}

// -----------------------------------------------------------------------------
// Wiring
// -----------------------------------------------------------------------------

func TestNewApp_WorkspaceLocked(t *testing.T) {
	c := testConfig(t)
	a := newTestApp(t, c, fakeProgram(), &bytes.Buffer{})
	defer a.Close()

	_, err := newApp(context.Background(), c, deps{
		out:      &bytes.Buffer{},
		mode:     ux.ModeMachine,
		runner:   fakeCompiler(),
		measurer: fakeProgram(),
		logger:   logging.Nop(),
	})
	var held *process.LockHeldError
	require.ErrorAs(t, err, &held)
	assert.Equal(t, os.Getpid(), held.HolderPID)
}

func TestNewApp_CloseReleasesLock(t *testing.T) {
	c := testConfig(t)
	a := newTestApp(t, c, fakeProgram(), &bytes.Buffer{})
	require.NoError(t, a.Close())

	again := newTestApp(t, c, fakeProgram(), &bytes.Buffer{})
	assert.NoError(t, again.Close())
}

func TestNewApp_BadgerKeepsSession(t *testing.T) {
	c := testConfig(t)
	c.Workspace.Store = "badger"

	first := newTestApp(t, c, fakeProgram(), &bytes.Buffer{})
	session := first.session
	require.NoError(t, runBaseline(context.Background(), first))
	require.NoError(t, first.Close())

	second := newTestApp(t, c, fakeProgram(), &bytes.Buffer{})
	defer second.Close()
	assert.Equal(t, session, second.session)
	assert.Equal(t, session, second.tuner.SessionID())
}

func TestNewApp_InfluxUnreachable(t *testing.T) {
	c := testConfig(t)
	c.Influx.Enabled = true
	c.Influx.URL = "http://127.0.0.1:1"
	c.Influx.Org = "org"
	c.Influx.Bucket = "bucket"

	a := newTestApp(t, c, fakeProgram(), &bytes.Buffer{})
	defer a.Close()
	assert.Nil(t, a.influx)
}

func TestCandidates(t *testing.T) {
	c := testConfig(t)
	c.Compiler.ExcludeFlags = []string{"-fgcse-sm"}
	a := newTestApp(t, c, fakeProgram(), &bytes.Buffer{})
	defer a.Close()

	got, err := a.candidates(context.Background(), true, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"-funroll-loops"}, got.Flags)
	require.Len(t, got.Parameters, 2)
	assert.Equal(t, measure.Parameter{Name: "max-unroll-times", Min: 0, Max: 65536, Default: 8}, got.Domains()["max-unroll-times"])

	none, err := a.candidates(context.Background(), false, false)
	require.NoError(t, err)
	assert.Empty(t, none.Flags)
	assert.Empty(t, none.Parameters)
}

// -----------------------------------------------------------------------------
// init, status and discover
// -----------------------------------------------------------------------------

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flagtune.yaml")
	var out bytes.Buffer
	p := ux.NewPrinter(&out, ux.ModeMachine)

	require.NoError(t, initConfig(p, path))
	assert.Contains(t, out.String(), "OK: wrote default configuration")

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().TunerConfig(), loaded.TunerConfig())

	out.Reset()
	err = initConfig(p, path)
	assert.ErrorIs(t, err, config.ErrExists)
	assert.Contains(t, out.String(), "WARN:")
}

func TestShowStatus(t *testing.T) {
	c := testConfig(t)
	a := newTestApp(t, c, fakeProgram(), &bytes.Buffer{})
	require.NoError(t, runBaseline(context.Background(), a))
	require.NoError(t, a.Close())

	var out bytes.Buffer
	require.NoError(t, showStatus(context.Background(), ux.NewPrinter(&out, ux.ModeMachine), c))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Contains(t, lines, "baseline\tcompleted")
	assert.Contains(t, lines, "flags\tpending")
	assert.Contains(t, lines, "compare\tpending")
}

func TestDiscover(t *testing.T) {
	c := testConfig(t)
	var out bytes.Buffer
	p := ux.NewPrinter(&out, ux.ModeMachine)

	require.NoError(t, discover(context.Background(), p, measure.NewDiscoverer("gcc", fakeCompiler()), c.Compiler))
	text := out.String()
	assert.Contains(t, text, "gcc 12.2.0: 2 candidate flags, 2 parameters")
	assert.Contains(t, text, "-fgcse-sm\n")
	assert.Contains(t, text, "max-unroll-times\t0\t65536\t8")
	assert.NotContains(t, text, "-faggressive-loop-optimizations")
}

func TestOutputMode(t *testing.T) {
	defer func(prev string) { outputFlag = prev }(outputFlag)

	outputFlag = "machine"
	mode, err := outputMode()
	require.NoError(t, err)
	assert.Equal(t, ux.ModeMachine, mode)

	outputFlag = "sparkly"
	_, err = outputMode()
	assert.Error(t, err)
}
