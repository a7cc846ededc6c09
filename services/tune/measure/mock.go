// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package measure

import (
	"context"
	"sync"
)

// CompileCall records one Compile invocation on a MockMeasurer.
type CompileCall struct {
	Flags      []string
	Params     []Setting
	Additional string
}

// MockMeasurer is a test double for Measurer.
//
// Configure it by setting function fields before use. A nil CompileFunc
// succeeds, a nil RunFunc returns 0 and a nil PerfFunc returns
// ErrPerfUnavailable. The current configuration is available to RunFunc
// and PerfFunc through Last.
//
// # Examples
//
//	mock := &MockMeasurer{
//	    RunFunc: func(ctx context.Context) (float64, error) {
//	        if mock.Last().Additional == "-O2" {
//	            return 95, nil
//	        }
//	        return 100, nil
//	    },
//	}
type MockMeasurer struct {
	CompileFunc func(ctx context.Context, call CompileCall) error
	RunFunc     func(ctx context.Context) (float64, error)
	PerfFunc    func(ctx context.Context) (map[string]float64, error)

	mu       sync.Mutex
	compiles []CompileCall
	last     CompileCall
	runs     int
	perfs    int
}

// Compile records the call and delegates to CompileFunc. The call becomes
// Last only when it succeeds.
func (m *MockMeasurer) Compile(ctx context.Context, flags []string, params []Setting, additional string) error {
	call := CompileCall{
		Flags:      append([]string(nil), flags...),
		Params:     append([]Setting(nil), params...),
		Additional: additional,
	}
	var err error
	if m.CompileFunc != nil {
		err = m.CompileFunc(ctx, call)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compiles = append(m.compiles, call)
	if err == nil {
		m.last = call
	}
	return err
}

// Run counts the call and delegates to RunFunc.
func (m *MockMeasurer) Run(ctx context.Context) (float64, error) {
	m.mu.Lock()
	m.runs++
	m.mu.Unlock()
	if m.RunFunc == nil {
		return 0, nil
	}
	return m.RunFunc(ctx)
}

// FetchPerf counts the call and delegates to PerfFunc.
func (m *MockMeasurer) FetchPerf(ctx context.Context) (map[string]float64, error) {
	m.mu.Lock()
	m.perfs++
	m.mu.Unlock()
	if m.PerfFunc == nil {
		return nil, ErrPerfUnavailable
	}
	return m.PerfFunc(ctx)
}

// Compiles returns every recorded Compile call, failed ones included.
func (m *MockMeasurer) Compiles() []CompileCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompileCall, len(m.compiles))
	copy(out, m.compiles)
	return out
}

// CompileCount returns the number of Compile calls.
func (m *MockMeasurer) CompileCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.compiles)
}

// RunCount returns the number of Run calls.
func (m *MockMeasurer) RunCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs
}

// PerfCount returns the number of FetchPerf calls.
func (m *MockMeasurer) PerfCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.perfs
}

// Last returns the most recent successful Compile call, or the zero value.
func (m *MockMeasurer) Last() CompileCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Reset clears the recorded calls and counters.
func (m *MockMeasurer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compiles = nil
	m.last = CompileCall{}
	m.runs = 0
	m.perfs = 0
}
