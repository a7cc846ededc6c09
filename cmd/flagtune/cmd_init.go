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
	"errors"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/flagtune/cmd/flagtune/config"
	"github.com/AleutianAI/flagtune/pkg/ux"
)

func runInit(cmd *cobra.Command, _ []string) error {
	mode, err := outputMode()
	if err != nil {
		return err
	}
	return initConfig(ux.NewPrinter(cmd.OutOrStdout(), mode), configPath)
}

// initConfig writes the default configuration to path unless a file is
// already there.
func initConfig(p *ux.Printer, path string) error {
	if err := config.CreateDefault(path); err != nil {
		if errors.Is(err, config.ErrExists) {
			p.Warning("%s already exists, leaving it untouched", path)
		}
		return err
	}
	p.Success("wrote default configuration to %s", path)
	p.Muted("edit compiler.cc, compiler.source and measure.metric, then run: flagtune tune")
	return nil
}
