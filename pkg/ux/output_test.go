// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrinter_Machine(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeMachine)

	p.Title("Selecting flags")
	p.Muted("hidden")
	p.Success("saved %d flags", 3)
	p.Warning("baseline is skewed")
	p.Error("compile failed")
	p.Info("plain %s", "info")

	assert.Equal(t, "OK: saved 3 flags\nWARN: baseline is skewed\nERROR: compile failed\nplain info\n", buf.String())
}

func TestPrinter_Plain(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModePlain)

	p.Title("Tune")
	p.Success("done")
	p.Muted("%d skipped", 2)

	assert.Equal(t, "== Tune ==\n✓ done\n2 skipped\n", buf.String())
	assert.Equal(t, ModePlain, p.Mode())
	assert.Same(t, &buf, p.Writer())
}

func TestPrinter_Rich(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeRich)

	p.Success("done")
	p.Info("note")

	out := buf.String()
	assert.Contains(t, out, "✓")
	assert.Contains(t, out, "done")
	assert.Contains(t, out, "│")
	assert.Contains(t, out, "note")
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"rich", ModeRich, false},
		{"FULL", ModeRich, false},
		{" plain ", ModePlain, false},
		{"machine", ModeMachine, false},
		{"quiet", ModeMachine, false},
		{"fancy", ModePlain, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestDetectMode(t *testing.T) {
	t.Setenv(ModeEnv, "machine")
	assert.Equal(t, ModeMachine, DetectMode(nil))

	t.Setenv(ModeEnv, "bogus")
	assert.Equal(t, ModePlain, DetectMode(nil))

	t.Setenv(ModeEnv, "")
	assert.Equal(t, ModePlain, DetectMode(nil))
	assert.False(t, IsTerminal(nil))
}

func TestWithSpinner(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModePlain)

	require.NoError(t, WithSpinner(p, "querying gcc", func() error { return nil }))
	assert.Equal(t, "querying gcc...\n✓ querying gcc\n", buf.String())

	buf.Reset()
	boom := errors.New("boom")
	err := WithSpinner(p, "querying gcc", func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "querying gcc...\n✗ querying gcc: boom\n", buf.String())
}

func TestSpinner_MachineIsSilent(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner(NewPrinter(&buf, ModeMachine), "working")
	s.Start()
	s.Start()
	s.UpdateMessage("still working")
	s.Stop()
	s.Stop()
	assert.Empty(t, buf.String())
}

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconPending, IconSkipped, IconArrow} {
		assert.Contains(t, icon.Render(), string(icon))
	}
}
