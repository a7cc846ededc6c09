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
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"

	"github.com/AleutianAI/flagtune/services/tune/measure"
	"github.com/AleutianAI/flagtune/services/tune/store"
	"github.com/AleutianAI/flagtune/services/tune/tuner"
)

// ProgressObserver renders tuning progress on a terminal.
//
// # Description
//
// In ModeRich every candidate or round redraws a single line holding a
// bubbles progress bar; the line is finished when the phase ends. In
// ModePlain each event prints its own line with an [i/n] counter. In
// ModeMachine events are tab-separated records.
//
// # Thread Safety
//
// Not safe for concurrent use. The tuner calls observers from one
// goroutine.
type ProgressObserver struct {
	tuner.NopObserver

	p    *Printer
	bar  progress.Model
	live bool
}

// NewProgressObserver creates an observer writing to w.
func NewProgressObserver(w io.Writer, mode Mode) *ProgressObserver {
	return &ProgressObserver{
		p: NewPrinter(w, mode),
		bar: progress.New(
			progress.WithSolidFill(string(ColorTealBright)),
			progress.WithWidth(32),
		),
	}
}

func (o *ProgressObserver) OnPhase(_ context.Context, ev tuner.PhaseEvent) {
	name := string(ev.Phase)
	switch ev.State {
	case tuner.PhaseStarted:
		o.p.Title(phaseTitle(ev.Phase))
	case tuner.PhaseSkipped:
		o.endLine()
		if o.p.mode == ModeMachine {
			fmt.Fprintf(o.p.w, "phase\t%s\tskipped\n", name)
			return
		}
		o.p.Muted("%s %s already completed", IconSkipped, name)
	case tuner.PhaseCompleted:
		o.endLine()
		if o.p.mode == ModeMachine {
			fmt.Fprintf(o.p.w, "phase\t%s\tcompleted\t%.3f\n", name, ev.Duration.Seconds())
			return
		}
		o.p.Success("%s completed in %s", name, ev.Duration.Round(time.Millisecond))
	case tuner.PhaseFailed:
		o.endLine()
		if o.p.mode == ModeMachine {
			fmt.Fprintf(o.p.w, "phase\t%s\tfailed\t%v\n", name, ev.Err)
			return
		}
		o.p.Error("%s failed: %v", name, ev.Err)
	}
}

func (o *ProgressObserver) OnBaseline(_ context.Context, b *tuner.Baseline) {
	if o.p.mode == ModeMachine {
		fmt.Fprintf(o.p.w, "baseline\t%g\t%g\t%g\n", b.Mean, b.StdDev, b.KS.PValue)
		return
	}
	o.p.Info("baseline mean %.3f, std %.3f over %d samples", b.Mean, b.StdDev, len(b.Raw))
	if !b.Normal() {
		o.p.Warning("baseline does not look normal (KS p = %.3g)", b.KS.PValue)
	}
}

func (o *ProgressObserver) OnFlagEvaluated(_ context.Context, ev tuner.FlagEvaluation) {
	if o.p.mode == ModeMachine {
		fmt.Fprintf(o.p.w, "flag\t%s\t%s\t%g\t%g\t%g\n", ev.Flag, decision(ev.Selected, ev.Skipped), ev.Z, ev.ZPValue, ev.TPValue)
		return
	}
	o.step(ev.Index, ev.Total, fmt.Sprintf("%s %s", ev.Flag, decision(ev.Selected, ev.Skipped)))
}

func (o *ProgressObserver) OnParameterEvaluated(_ context.Context, ev tuner.ParameterEvaluation) {
	if o.p.mode == ModeMachine {
		fmt.Fprintf(o.p.w, "parameter\t%s\t%s\t%g\t%g\n", ev.Parameter, decision(ev.Selected, ev.Skipped), ev.T, ev.TPValue)
		return
	}
	o.step(ev.Index, ev.Total, fmt.Sprintf("%s %s", ev.Parameter, decision(ev.Selected, ev.Skipped)))
}

func (o *ProgressObserver) OnBanditRound(_ context.Context, ev tuner.BanditRound) {
	if o.p.mode == ModeMachine {
		status := "ok"
		if ev.Skipped {
			status = "skipped"
		}
		fmt.Fprintf(o.p.w, "round\t%d\t%s\t%g\t%g\t%s\n", ev.Epoch, status, ev.Objective, ev.Reward, joinSettings(ev.Assignment))
		return
	}
	label := fmt.Sprintf("reward %+.4f", ev.Reward)
	if ev.Skipped {
		label = "skipped"
	}
	if ev.Parameter != "" {
		label = ev.Parameter + " " + label
	}
	o.step(ev.Epoch, ev.Total, label)
}

// step draws progress for the zero-based index i of total.
func (o *ProgressObserver) step(i, total int, label string) {
	counter := fmt.Sprintf("[%d/%d]", i+1, total)
	if o.p.mode != ModeRich {
		fmt.Fprintf(o.p.w, "%s %s\n", counter, label)
		return
	}
	pct := 0.0
	if total > 0 {
		pct = float64(i+1) / float64(total)
	}
	fmt.Fprintf(o.p.w, "\r\033[K%s %s %s", o.bar.ViewAs(pct), Styles.Muted.Render(counter), label)
	o.live = true
}

// endLine terminates a live progress line.
func (o *ProgressObserver) endLine() {
	if o.live {
		fmt.Fprintln(o.p.w)
		o.live = false
	}
}

func decision(selected, skipped bool) string {
	switch {
	case skipped:
		return "skipped"
	case selected:
		return "selected"
	default:
		return "rejected"
	}
}

func joinSettings(assignment []measure.Setting) string {
	parts := make([]string, len(assignment))
	for i, s := range assignment {
		parts[i] = fmt.Sprintf("%s=%d", s.Name, s.Value)
	}
	return strings.Join(parts, ",")
}

func phaseTitle(phase store.Phase) string {
	switch phase {
	case store.PhaseBaseline:
		return "Estimating baseline"
	case store.PhaseFlags:
		return "Selecting flags"
	case store.PhaseParameters:
		return "Selecting parameters"
	case store.PhaseBandit:
		return "Optimizing parameters"
	case store.PhaseCompare:
		return "Comparing configurations"
	}
	return string(phase)
}

var _ tuner.Observer = (*ProgressObserver)(nil)
