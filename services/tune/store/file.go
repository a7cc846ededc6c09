// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/AleutianAI/flagtune/services/tune/measure"
)

// Workspace file names.
const (
	BaselineFile   = "baseline.txt"
	FlagsFile      = "selected_optimizers.txt"
	ParametersFile = "selected_parameters.txt"
	AssignmentFile = "optimized_parameters.txt"
	ResultsFile    = "result.csv"
)

var phaseFiles = map[Phase]string{
	PhaseBaseline:   BaselineFile,
	PhaseFlags:      FlagsFile,
	PhaseParameters: ParametersFile,
	PhaseBandit:     AssignmentFile,
	PhaseCompare:    ResultsFile,
}

// FileStore keeps each phase result in its own text file. A file's
// existence marks its phase Completed.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("workspace directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the workspace directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the file backing phase.
func (s *FileStore) Path(phase Phase) string {
	return filepath.Join(s.dir, phaseFiles[phase])
}

func (s *FileStore) Status(ctx context.Context, phase Phase) (Status, error) {
	if _, ok := phaseFiles[phase]; !ok {
		return Pending, fmt.Errorf("unknown phase %q", phase)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := os.Stat(s.Path(phase))
	switch {
	case err == nil:
		return Completed, nil
	case errors.Is(err, fs.ErrNotExist):
		return Pending, nil
	default:
		return Pending, fmt.Errorf("stat %s: %w", phase, err)
	}
}

func (s *FileStore) SaveBaseline(ctx context.Context, samples []float64) error {
	return s.write(ctx, PhaseBaseline, encodeFloats(samples))
}

func (s *FileStore) LoadBaseline(ctx context.Context) ([]float64, error) {
	data, err := s.read(ctx, PhaseBaseline)
	if err != nil {
		return nil, err
	}
	return decodeFloats(data)
}

func (s *FileStore) SaveFlags(ctx context.Context, flags []string) error {
	return s.write(ctx, PhaseFlags, encodeLines(flags))
}

func (s *FileStore) LoadFlags(ctx context.Context) ([]string, error) {
	data, err := s.read(ctx, PhaseFlags)
	if err != nil {
		return nil, err
	}
	return decodeLines(data), nil
}

func (s *FileStore) SaveParameters(ctx context.Context, params []string) error {
	return s.write(ctx, PhaseParameters, encodeLines(params))
}

func (s *FileStore) LoadParameters(ctx context.Context) ([]string, error) {
	data, err := s.read(ctx, PhaseParameters)
	if err != nil {
		return nil, err
	}
	return decodeLines(data), nil
}

func (s *FileStore) SaveAssignment(ctx context.Context, assignment []measure.Setting) error {
	return s.write(ctx, PhaseBandit, encodeAssignment(assignment))
}

func (s *FileStore) LoadAssignment(ctx context.Context) ([]measure.Setting, error) {
	data, err := s.read(ctx, PhaseBandit)
	if err != nil {
		return nil, err
	}
	return decodeAssignment(data)
}

func (s *FileStore) SaveResults(ctx context.Context, results Results) error {
	data, err := encodeResults(results)
	if err != nil {
		return err
	}
	return s.write(ctx, PhaseCompare, data)
}

func (s *FileStore) LoadResults(ctx context.Context) (Results, error) {
	data, err := s.read(ctx, PhaseCompare)
	if err != nil {
		return Results{}, err
	}
	return decodeResults(data)
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

// write replaces the phase file atomically via a temp file and rename.
func (s *FileStore) write(ctx context.Context, phase Phase, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(phase)
	tmp, err := os.CreateTemp(s.dir, "."+phaseFiles[phase]+".*")
	if err != nil {
		return fmt.Errorf("save %s: %w", phase, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("save %s: %w", phase, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save %s: %w", phase, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save %s: %w", phase, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save %s: %w", phase, err)
	}
	return nil
}

func (s *FileStore) read(ctx context.Context, phase Phase) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.Path(phase))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", phase, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", phase, err)
	}
	return data, nil
}
