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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/flagtune/cmd/flagtune/config"
	"github.com/AleutianAI/flagtune/pkg/logging"
	"github.com/AleutianAI/flagtune/pkg/ux"
	"github.com/AleutianAI/flagtune/services/tune/store"
)

func runStatus(cmd *cobra.Command, _ []string) error {
	mode, err := outputMode()
	if err != nil {
		return err
	}
	return showStatus(cmd.Context(), ux.NewPrinter(cmd.OutOrStdout(), mode), cfg)
}

// showStatus prints the phase statuses of the workspace. It only reads,
// so it does not take the workspace lock.
func showStatus(ctx context.Context, p *ux.Printer, c config.FlagtuneConfig) (err error) {
	st, err := c.OpenStore(logging.Nop())
	if err != nil {
		return fmt.Errorf("open %s store: %w", c.Workspace.Store, err)
	}
	defer func() {
		err = errors.Join(err, st.Close())
	}()

	statuses, err := store.Statuses(ctx, st)
	if err != nil {
		return err
	}

	p.Title("Workspace " + c.Workspace.Dir)
	if ss, ok := st.(store.SessionStore); ok {
		if s, err := ss.Session(ctx); err == nil && s.ID != "" {
			p.Muted("session %s, started %s", s.ID, s.Started.Format("2006-01-02 15:04:05"))
		}
	}
	p.Print(ux.StatusTable(statuses, p.Mode()))
	return nil
}
