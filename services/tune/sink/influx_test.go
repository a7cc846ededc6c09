// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sink

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/flagtune/pkg/logging"
	"github.com/AleutianAI/flagtune/services/tune/measure"
	"github.com/AleutianAI/flagtune/services/tune/store"
	"github.com/AleutianAI/flagtune/services/tune/tuner"
)

// --- Mock InfluxDB WriteAPI ---

type MockWriteAPI struct {
	WritePointFunc func(ctx context.Context, point ...*write.Point) error

	mu            sync.Mutex
	WrittenPoints []*write.Point
}

func (m *MockWriteAPI) WritePoint(ctx context.Context, point ...*write.Point) error {
	m.mu.Lock()
	m.WrittenPoints = append(m.WrittenPoints, point...)
	m.mu.Unlock()
	if m.WritePointFunc != nil {
		return m.WritePointFunc(ctx, point...)
	}
	return nil
}

func (m *MockWriteAPI) WriteRecord(ctx context.Context, line ...string) error {
	return nil
}

func (m *MockWriteAPI) EnableBatching()                 {}
func (m *MockWriteAPI) Flush(ctx context.Context) error { return nil }

func tags(p *write.Point) map[string]string {
	out := map[string]string{}
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

func fields(p *write.Point) map[string]interface{} {
	out := map[string]interface{}{}
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func newSink(w *MockWriteAPI) *InfluxSink {
	s := New(w, "session-1", nil)
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	return s
}

func TestInfluxSink_OnSample(t *testing.T) {
	w := &MockWriteAPI{}
	s := newSink(w)

	s.OnSample(context.Background(), tuner.SampleEvent{Phase: store.PhaseFlags, Label: "-funroll-loops", Index: 3, Value: 91.5})

	require.Len(t, w.WrittenPoints, 1)
	p := w.WrittenPoints[0]
	assert.Equal(t, MeasurementSample, p.Name())
	assert.Equal(t, map[string]string{"session": "session-1", "phase": "flags", "config": "-funroll-loops"}, tags(p))
	assert.Equal(t, 91.5, fields(p)["value"])
	assert.Equal(t, int64(3), fields(p)["index"])
	assert.Equal(t, time.Unix(1700000000, 0), p.Time())
}

func TestInfluxSink_OnBanditRound(t *testing.T) {
	w := &MockWriteAPI{}
	s := newSink(w)

	s.OnBanditRound(context.Background(), tuner.BanditRound{
		Epoch:      4,
		Parameter:  "max-unroll-times",
		Assignment: []measure.Setting{{Name: "max-unroll-times", Value: 8}},
		Objective:  95,
		Reward:     0.005,
	})
	s.OnBanditRound(context.Background(), tuner.BanditRound{Epoch: 5, Skipped: true, Err: errors.New("compile failed")})

	require.Len(t, w.WrittenPoints, 2)
	f := fields(w.WrittenPoints[0])
	assert.Equal(t, int64(8), f["param_max-unroll-times"])
	assert.Equal(t, 0.005, f["reward"])
	assert.Equal(t, false, f["skipped"])
	assert.Equal(t, "max-unroll-times", tags(w.WrittenPoints[0])["parameter"])

	skipped := fields(w.WrittenPoints[1])
	assert.Equal(t, true, skipped["skipped"])
	assert.NotContains(t, skipped, "reward")
}

func TestInfluxSink_OnCompare(t *testing.T) {
	w := &MockWriteAPI{}
	s := newSink(w)

	report := tuner.NewReport(store.Results{
		Columns: []string{tuner.ConfigO1, tuner.ConfigO2, tuner.ConfigOfast},
		Samples: [][]float64{{10}, {5}, {}},
	})
	s.OnCompare(context.Background(), report)

	require.Len(t, w.WrittenPoints, 2, "failed configurations are not written")
	o2 := fields(w.WrittenPoints[1])
	assert.Equal(t, "O2", tags(w.WrittenPoints[1])["config"])
	assert.Equal(t, 100.0, o2["score"])
	assert.Equal(t, 0.0, o2["delta_o2"])
}

func TestInfluxSink_OnCompareWithoutO2(t *testing.T) {
	w := &MockWriteAPI{}
	s := newSink(w)

	s.OnCompare(context.Background(), tuner.NewReport(store.Results{
		Columns: []string{tuner.ConfigO3},
		Samples: [][]float64{{7}},
	}))
	require.Len(t, w.WrittenPoints, 1)
	f := fields(w.WrittenPoints[0])
	assert.NotContains(t, f, "delta_o2")
	assert.False(t, math.IsNaN(f["score"].(float64)))
}

func TestInfluxSink_WriteFailureIsCounted(t *testing.T) {
	w := &MockWriteAPI{
		WritePointFunc: func(ctx context.Context, point ...*write.Point) error {
			return errors.New("connection refused")
		},
	}
	exporter := logging.NewBufferedExporter()
	s := New(w, "session-1", logging.New(logging.Config{Quiet: true, Exporter: exporter}))

	s.OnSample(context.Background(), tuner.SampleEvent{Phase: store.PhaseBaseline, Value: 1})
	s.OnSample(context.Background(), tuner.SampleEvent{Phase: store.PhaseBaseline, Value: 2})

	assert.Equal(t, int64(2), s.Failed())
	assert.Len(t, exporter.Messages(logging.LevelWarn), 2)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "http://localhost:8086", cfg.URL)
}
