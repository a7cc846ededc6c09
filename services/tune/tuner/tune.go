// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tuner

import (
	"context"

	"github.com/AleutianAI/flagtune/services/tune/measure"
)

// Candidates is the search space handed to Tune.
type Candidates struct {
	// Flags to test, in order.
	Flags []string

	// Parameters to test, in order. Their ranges are also the bandit
	// domains.
	Parameters []measure.Parameter
}

// Domains indexes the candidate parameters by name.
func (c Candidates) Domains() map[string]measure.Parameter {
	out := make(map[string]measure.Parameter, len(c.Parameters))
	for _, p := range c.Parameters {
		out[p.Name] = p
	}
	return out
}

// Tune runs every phase in order and returns the comparison report.
//
// Completed phases are not repeated, so Tune resumes an interrupted
// session and costs no compilation on a finished one. The first failing
// phase stops the run.
func (t *Tuner) Tune(ctx context.Context, c Candidates) (*Report, error) {
	if _, err := t.EstimateBaseline(ctx); err != nil {
		return nil, err
	}
	if _, err := t.SelectFlags(ctx, c.Flags); err != nil {
		return nil, err
	}
	if _, err := t.SelectParameters(ctx, c.Parameters); err != nil {
		return nil, err
	}
	if _, err := t.OptimizeBandit(ctx, c.Domains()); err != nil {
		return nil, err
	}
	return t.Compare(ctx)
}
