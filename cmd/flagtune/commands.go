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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/flagtune/cmd/flagtune/config"
)

var (
	// Global flags, bound in init.
	configPath  string
	outputFlag  string
	metricsAddr string

	// cfg is loaded by the root PersistentPreRunE.
	cfg config.FlagtuneConfig

	rootCmd = &cobra.Command{
		Use:   "flagtune",
		Short: "Tune compiler optimization flags and parameters for one program",
		Long: `flagtune searches a compiler's optimization flags and numeric parameters
for the settings that make one program fastest (or smallest). Each phase
persists its result in the workspace, so phases can be run one at a time
and an interrupted run resumes where it stopped.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}

	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Write a default flagtune.yaml",
		Args:  cobra.NoArgs,
		// init must not require the file it creates.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE:              runInit, // Defined in cmd_init.go
	}

	discoverCmd = &cobra.Command{
		Use:   "discover",
		Short: "List the candidate flags and parameters of the configured compiler",
		Args:  cobra.NoArgs,
		RunE:  runDiscover, // Defined in cmd_discover.go
	}

	// --- Phases ---
	baselineCmd = &cobra.Command{
		Use:   "baseline",
		Short: "Measure the reference distribution at the base optimization level",
		Args:  cobra.NoArgs,
		RunE:  phaseCommand(runBaseline), // Defined in cmd_phases.go
	}
	flagsCmd = &cobra.Command{
		Use:   "flags",
		Short: "Select the optimization flags that improve on the baseline",
		Args:  cobra.NoArgs,
		RunE:  phaseCommand(runFlags),
	}
	paramsCmd = &cobra.Command{
		Use:   "params",
		Short: "Select the parameters whose value range matters",
		Args:  cobra.NoArgs,
		RunE:  phaseCommand(runParams),
	}
	banditCmd = &cobra.Command{
		Use:   "bandit",
		Short: "Choose values for the selected parameters with LinUCB",
		Args:  cobra.NoArgs,
		RunE:  phaseCommand(runBandit),
	}
	compareCmd = &cobra.Command{
		Use:   "compare",
		Short: "Compare O1, O2, O3, Ofast and the tuned configurations",
		Args:  cobra.NoArgs,
		RunE:  phaseCommand(runCompare),
	}
	tuneCmd = &cobra.Command{
		Use:   "tune",
		Short: "Run every pending phase in order",
		Args:  cobra.NoArgs,
		RunE:  phaseCommand(runTune),
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show which phases of the workspace are completed",
		Args:  cobra.NoArgs,
		RunE:  runStatus, // Defined in cmd_status.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the configuration file")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "", "output mode: rich, plain or machine (default: detect)")

	for _, c := range []*cobra.Command{baselineCmd, flagsCmd, paramsCmd, banditCmd, compareCmd, tuneCmd} {
		c.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics, /status and /healthz on this address while tuning")
	}

	rootCmd.AddCommand(initCmd, discoverCmd, statusCmd)
	rootCmd.AddCommand(baselineCmd, flagsCmd, paramsCmd, banditCmd, compareCmd, tuneCmd)
}

// loadConfig reads the configuration for every command but init.
func loadConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if metricsAddr != "" {
		loaded.Telemetry.MetricsAddr = metricsAddr
		if err := loaded.Validate(); err != nil {
			return err
		}
	}
	cfg = loaded
	return nil
}
