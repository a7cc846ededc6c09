// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists the output of every tuning phase.
//
// A phase is Completed once its result has been saved and Pending before.
// Later phases read earlier results from the store rather than from memory,
// so every phase can be rerun in a fresh process and is skipped when its
// result already exists.
//
// Two backends are provided:
//
//	FileStore   plain text files in a workspace directory, diffable by hand
//	BadgerStore an embedded key-value database holding the same text records
//
// Both encode records identically (see codec.go).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/AleutianAI/flagtune/services/tune/measure"
)

// ErrNotFound is returned by Load methods for a Pending phase.
var ErrNotFound = errors.New("phase result not found")

// Phase names a persisted tuning phase.
type Phase string

const (
	PhaseBaseline   Phase = "baseline"
	PhaseFlags      Phase = "flags"
	PhaseParameters Phase = "parameters"
	PhaseBandit     Phase = "bandit"
	PhaseCompare    Phase = "compare"
)

// Phases lists every phase in execution order.
var Phases = []Phase{PhaseBaseline, PhaseFlags, PhaseParameters, PhaseBandit, PhaseCompare}

// Status is the persisted state of a phase.
type Status int

const (
	Pending Status = iota
	Completed
)

func (s Status) String() string {
	if s == Completed {
		return "completed"
	}
	return "pending"
}

// Results holds the raw samples of the final comparison run, one column
// per configuration.
type Results struct {
	Columns []string
	Samples [][]float64
}

// Column returns the samples of name and whether it exists.
func (r Results) Column(name string) ([]float64, bool) {
	for i, c := range r.Columns {
		if c == name {
			return r.Samples[i], true
		}
	}
	return nil, false
}

// Session identifies one tuning workspace.
type Session struct {
	ID      string
	Started time.Time
}

// PhaseStore persists phase results.
//
// # Thread Safety
//
// Implementations are safe for concurrent use.
//
// # Semantics
//
// Saving a result marks its phase Completed. An empty selection is a valid
// Completed result and loads back as an empty slice. Loading a Pending
// phase returns ErrNotFound.
type PhaseStore interface {
	Status(ctx context.Context, phase Phase) (Status, error)

	SaveBaseline(ctx context.Context, samples []float64) error
	LoadBaseline(ctx context.Context) ([]float64, error)

	SaveFlags(ctx context.Context, flags []string) error
	LoadFlags(ctx context.Context) ([]string, error)

	SaveParameters(ctx context.Context, params []string) error
	LoadParameters(ctx context.Context) ([]string, error)

	SaveAssignment(ctx context.Context, assignment []measure.Setting) error
	LoadAssignment(ctx context.Context) ([]measure.Setting, error)

	SaveResults(ctx context.Context, results Results) error
	LoadResults(ctx context.Context) (Results, error)

	Close() error
}

// SessionStore is implemented by stores that track session metadata.
type SessionStore interface {
	Session(ctx context.Context) (Session, error)
}

// Statuses returns the status of every phase in execution order.
func Statuses(ctx context.Context, s PhaseStore) (map[Phase]Status, error) {
	out := make(map[Phase]Status, len(Phases))
	for _, p := range Phases {
		st, err := s.Status(ctx, p)
		if err != nil {
			return nil, err
		}
		out[p] = st
	}
	return out, nil
}
