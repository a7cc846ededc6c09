// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package measure

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const optimizersHelp = `The following options control optimizations:
  -faggressive-loop-optimizations Aggressively optimize loops using language
                              constraints.
  -falign-functions           Align the start of functions.
  -fgcse-sm                   Perform store motion after global common
  -funroll-loops              Perform loop unrolling when iteration count is
  -O<number>                  Set optimization level to <number>.
`

const enabledHelp = `The following options control optimizations:
  -faggressive-loop-optimizations 	[enabled]
  -falign-functions           		[enabled]
  -fgcse-sm                   		[disabled]
  -funroll-loops              		[disabled]
`

const paramsHelp10 = `The --param option recognizes the following as parameters:
  --param=align-loop-iterations=<0,65536> 	4
  --param=max-unroll-times=<0,65536> 		8
  --param=ipa-cp-eval-threshold=		500
  --param=sched-autopref-queue-depth=<-1,65536> 	-1
`

const paramsDef = `/* params.def */
DEFPARAM (PARAM_MAX_UNROLL_TIMES,
	  "max-unroll-times",
	  "The maximum number of unrollings of a single loop, (loop body)",
	  8, 0, 0)

DEFPARAM(PARAM_GGC_MIN_EXPAND,
	 "ggc-min-expand",
	 "Minimum heap expansion to trigger garbage collection, as "
	 "a percentage of the total size of the heap.",
	 GGC_MIN_EXPAND_DEFAULT, 0, 0)

DEFPARAM(PARAM_LARGE_FUNCTION_GROWTH,
	 "large-function-growth",
	 "Maximal growth due to inlining of large function (in percent).",
	 100, 0, INT_MAX)

DEFPARAM(PARAM_MAX_GCSE_MEMORY,
	 "max-gcse-memory",
	 "The maximum amount of memory to be allocated by GCSE.",
	 128 * 1024 * 1024, 0, 0)
`

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("gcc (Ubuntu 11.4.0-1ubuntu1~22.04) 11.4.0\nCopyright")
	require.NoError(t, err)
	assert.Equal(t, Version{Major: 11, Minor: 4, Patch: 0}, v)
	assert.Equal(t, "11.4.0", v.String())

	_, err = ParseVersion("no digits here")
	assert.Error(t, err)
}

func TestParseOptimizers(t *testing.T) {
	assert.Equal(t,
		[]string{"-faggressive-loop-optimizations", "-falign-functions", "-fgcse-sm", "-funroll-loops"},
		ParseOptimizers(optimizersHelp))
	assert.Equal(t,
		[]string{"-faggressive-loop-optimizations", "-falign-functions"},
		ParseEnabledOptimizers(enabledHelp))
}

func TestCandidateFlags(t *testing.T) {
	all := []string{"-fa", "-fb", "-fc", "-fb", "-fd"}
	got := CandidateFlags(all, []string{"-fa"}, []string{"-fd"})
	assert.Equal(t, []string{"-fb", "-fc"}, got)
}

func TestParseParamNames(t *testing.T) {
	assert.Equal(t,
		[]string{"align-loop-iterations", "max-unroll-times", "ipa-cp-eval-threshold", "sched-autopref-queue-depth"},
		ParseParamNames(paramsHelp10, 10))

	legacy := "The --param option recognizes the following as parameters:\n  max-unroll-times            The maximum\n  ggc-min-expand              Minimum\n"
	assert.Equal(t, []string{"max-unroll-times", "ggc-min-expand"}, ParseParamNames(legacy, 9))
}

func TestParseParamRanges(t *testing.T) {
	assert.Equal(t, []Parameter{
		{Name: "align-loop-iterations", Min: 0, Max: 65536, Default: 4},
		{Name: "max-unroll-times", Min: 0, Max: 65536, Default: 8},
		{Name: "sched-autopref-queue-depth", Min: -1, Max: 65536, Default: -1},
	}, ParseParamRanges(paramsHelp10))
}

func TestParseParamsDef(t *testing.T) {
	params, err := ParseParamsDef(paramsDef)
	require.NoError(t, err)
	assert.Equal(t, []Parameter{
		{Name: "max-unroll-times", Min: 0, Max: 80, Default: 8},
		{Name: "ggc-min-expand", Min: 0, Max: 300, Default: 30},
		{Name: "large-function-growth", Min: 0, Max: 2147483647, Default: 100},
		{Name: "max-gcse-memory", Min: 0, Max: 1342177280, Default: 134217728},
	}, params)

	_, err = ParseParamsDef(`DEFPARAM(P, "x", "desc", 1, 2)`)
	assert.Error(t, err)
}

func scriptedDriver(outputs map[string]string) *MockRunner {
	return &MockRunner{
		RunFunc: func(ctx context.Context, name string, args ...string) (Output, error) {
			key := strings.Join(args, " ")
			out, ok := outputs[key]
			if !ok {
				return Output{}, fmt.Errorf("unexpected command: %s %s", name, key)
			}
			return Output{Stdout: []byte(out)}, nil
		},
	}
}

func TestDiscoverer_Flags(t *testing.T) {
	runner := scriptedDriver(map[string]string{
		"--help=optimizers":         optimizersHelp,
		"-Q -O3 --help=optimizers": enabledHelp,
	})
	d := NewDiscoverer("gcc", runner)

	flags, err := d.Flags(context.Background(), "-O3", []string{"-funroll-loops"})
	require.NoError(t, err)
	assert.Equal(t, []string{"-fgcse-sm"}, flags)
}

func TestDiscoverer_ParametersFromRanges(t *testing.T) {
	runner := scriptedDriver(map[string]string{"-Q --help=params": paramsHelp10})
	d := NewDiscoverer("gcc", runner)

	params, err := d.Parameters(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, params, 3)
	assert.Equal(t, "align-loop-iterations", params[0].Name)
	assert.Equal(t, "sched-autopref-queue-depth", params[2].Name)
}

func TestDiscoverer_ParametersFromDef(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.def")
	require.NoError(t, os.WriteFile(path, []byte(paramsDef), 0o644))

	runner := scriptedDriver(map[string]string{
		"--version":     "gcc-9 (GCC) 9.5.0\n",
		"--help=params": "  max-unroll-times   The maximum\n  ggc-min-expand   Minimum\n",
	})
	d := NewDiscoverer("gcc-9", runner)

	params, err := d.Parameters(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []Parameter{
		{Name: "max-unroll-times", Min: 0, Max: 80, Default: 8},
		{Name: "ggc-min-expand", Min: 0, Max: 300, Default: 30},
	}, params)

	v, err := d.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, v.Major)
}
