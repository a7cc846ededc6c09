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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/flagtune/cmd/flagtune/config"
	"github.com/AleutianAI/flagtune/pkg/ux"
	"github.com/AleutianAI/flagtune/services/tune/measure"
)

func runDiscover(cmd *cobra.Command, _ []string) error {
	mode, err := outputMode()
	if err != nil {
		return err
	}
	d := measure.NewDiscoverer(cfg.Compiler.CC, measure.NewExecRunner(cfg.Compiler.Timeout))
	return discover(cmd.Context(), ux.NewPrinter(cmd.OutOrStdout(), mode), d, cfg.Compiler)
}

// discover prints the compiler version and the candidate flags and
// parameters tuning would consider.
func discover(ctx context.Context, p *ux.Printer, d *measure.Discoverer, c config.CompilerConfig) error {
	var (
		version measure.Version
		flags   []string
		params  []measure.Parameter
	)
	err := ux.WithSpinner(p, "querying "+c.CC, func() error {
		var err error
		if version, err = d.Version(ctx); err != nil {
			return err
		}
		if flags, err = d.Flags(ctx, c.Base, c.ExcludeFlags); err != nil {
			return err
		}
		params, err = d.Parameters(ctx, c.ParamsDef)
		return err
	})
	if err != nil {
		return err
	}

	p.Info("%s %s: %d candidate flags, %d parameters", c.CC, version, len(flags), len(params))
	p.Print(ux.ListTable("flag", flags, p.Mode()))
	p.Print(ux.ParameterTable(params, p.Mode()))
	return nil
}
