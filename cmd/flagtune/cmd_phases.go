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
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/flagtune/pkg/ux"
	"github.com/AleutianAI/flagtune/services/tune/tuner"
)

// phaseFunc runs one or more tuning phases against a wired app.
type phaseFunc func(ctx context.Context, a *app) error

// phaseCommand wraps fn into a cobra RunE: it builds the app from the
// loaded config, runs fn (next to the status server when an address is
// configured) and closes the app.
func phaseCommand(fn phaseFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) (err error) {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		mode, err := outputMode()
		if err != nil {
			return err
		}
		a, err := newApp(ctx, cfg, deps{out: cmd.OutOrStdout(), mode: mode})
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, a.Close())
		}()

		return runWithServer(ctx, cfg.Telemetry.MetricsAddr, a.tuner, func(ctx context.Context) error {
			return fn(ctx, a)
		})
	}
}

// outputMode resolves --output, falling back to terminal detection.
func outputMode() (ux.Mode, error) {
	if outputFlag == "" {
		return ux.DetectMode(os.Stdout), nil
	}
	return ux.ParseMode(outputFlag)
}

// ----- Phases -----

func runBaseline(ctx context.Context, a *app) error {
	b, err := a.tuner.EstimateBaseline(ctx)
	if err != nil {
		return err
	}
	a.printer.Success("baseline: mean %.4f, std %.4f (%d samples)", b.Mean, b.StdDev, len(b.Raw))
	return nil
}

func runFlags(ctx context.Context, a *app) error {
	c, err := a.candidates(ctx, true, false)
	if err != nil {
		return err
	}
	flags, err := a.tuner.SelectFlags(ctx, c.Flags)
	if err != nil {
		return err
	}
	a.printer.Print(ux.ListTable("selected flag", flags, a.printer.Mode()))
	return nil
}

func runParams(ctx context.Context, a *app) error {
	c, err := a.candidates(ctx, false, true)
	if err != nil {
		return err
	}
	params, err := a.tuner.SelectParameters(ctx, c.Parameters)
	if err != nil {
		return err
	}
	a.printer.Print(ux.ListTable("selected parameter", params, a.printer.Mode()))
	return nil
}

func runBandit(ctx context.Context, a *app) error {
	c, err := a.candidates(ctx, false, true)
	if err != nil {
		return err
	}
	assignment, err := a.tuner.OptimizeBandit(ctx, c.Domains())
	if err != nil {
		return err
	}
	a.printer.Print(ux.AssignmentTable(assignment, a.printer.Mode()))
	return nil
}

func runCompare(ctx context.Context, a *app) error {
	report, err := a.tuner.Compare(ctx)
	if err != nil {
		return err
	}
	printReport(a.printer, report)
	return nil
}

func runTune(ctx context.Context, a *app) error {
	c, err := a.candidates(ctx, true, true)
	if err != nil {
		return err
	}
	report, err := a.tuner.Tune(ctx, c)
	if err != nil {
		return err
	}
	printReport(a.printer, report)
	return nil
}

func printReport(p *ux.Printer, r *tuner.Report) {
	p.Print(ux.ReportTable(r, p.Mode()))
	if best := r.Best(); best != "" && p.Mode() != ux.ModeMachine {
		p.Success("best configuration: %s", best)
	}
}

// candidates discovers the search space. Flags and parameters are only
// queried when asked for, each costing compiler invocations.
func (a *app) candidates(ctx context.Context, flags, params bool) (tuner.Candidates, error) {
	var c tuner.Candidates
	d := a.discoverer()
	if flags {
		found, err := d.Flags(ctx, a.cfg.Compiler.Base, a.cfg.Compiler.ExcludeFlags)
		if err != nil {
			return c, fmt.Errorf("discover flags: %w", err)
		}
		c.Flags = found
		a.logger.Info("discovered candidate flags", "count", len(found))
	}
	if params {
		found, err := d.Parameters(ctx, a.cfg.Compiler.ParamsDef)
		if err != nil {
			return c, fmt.Errorf("discover parameters: %w", err)
		}
		c.Parameters = found
		a.logger.Info("discovered candidate parameters", "count", len(found))
	}
	return c, nil
}
