// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sink streams tuning measurements to InfluxDB.
package sink

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/flagtune/pkg/logging"
	"github.com/AleutianAI/flagtune/services/tune/tuner"
)

// Measurement names written by InfluxSink.
const (
	MeasurementSample = "flagtune_sample"
	MeasurementRound  = "flagtune_bandit_round"
	MeasurementScore  = "flagtune_score"
)

// Config locates the InfluxDB bucket.
type Config struct {
	URL    string `yaml:"url" validate:"omitempty,url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org" validate:"required_if=Enabled true"`
	Bucket string `yaml:"bucket" validate:"required_if=Enabled true"`

	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns a disabled sink pointing at a local InfluxDB.
func DefaultConfig() Config {
	return Config{
		URL:    "http://localhost:8086",
		Org:    "flagtune",
		Bucket: "flagtune",
	}
}

// InfluxSink is a tuner.Observer that writes one point per sample, per
// bandit round and per compared configuration, tagged with the session.
//
// Write failures are logged and counted, never returned, so an unreachable
// database does not stop tuning.
type InfluxSink struct {
	tuner.NopObserver

	writer  api.WriteAPIBlocking
	session string
	logger  *logging.Logger
	now     func() time.Time
	failed  atomic.Int64
	close   func()
}

// New creates a sink on an existing write API.
func New(writer api.WriteAPIBlocking, session string, logger *logging.Logger) *InfluxSink {
	if logger == nil {
		logger = logging.Nop()
	}
	return &InfluxSink{
		writer:  writer,
		session: session,
		logger:  logger,
		now:     time.Now,
	}
}

// Dial connects to InfluxDB and checks its health.
//
// # Outputs
//
//   - *InfluxSink: Must be closed to release the client.
//   - error: Non-nil if the server is unreachable or unhealthy.
func Dial(ctx context.Context, cfg Config, session string, logger *logging.Logger) (*InfluxSink, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb health check: %w", err)
	}
	if health.Status != "pass" {
		msg := string(health.Status)
		if health.Message != nil {
			msg = *health.Message
		}
		client.Close()
		return nil, fmt.Errorf("influxdb not ready: %s", msg)
	}

	s := New(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), session, logger)
	s.close = client.Close
	return s, nil
}

// Close releases the client created by Dial.
func (s *InfluxSink) Close() {
	if s.close != nil {
		s.close()
	}
}

// Failed returns the number of points that could not be written.
func (s *InfluxSink) Failed() int64 {
	return s.failed.Load()
}

func (s *InfluxSink) OnSample(ctx context.Context, ev tuner.SampleEvent) {
	s.write(ctx, influxdb2.NewPoint(
		MeasurementSample,
		map[string]string{
			"session": s.session,
			"phase":   string(ev.Phase),
			"config":  ev.Label,
		},
		map[string]interface{}{
			"value": ev.Value,
			"index": ev.Index,
		},
		s.now(),
	))
}

func (s *InfluxSink) OnBanditRound(ctx context.Context, ev tuner.BanditRound) {
	fields := map[string]interface{}{
		"epoch":   ev.Epoch,
		"skipped": ev.Skipped,
	}
	if !ev.Skipped {
		fields["objective"] = ev.Objective
		fields["reward"] = ev.Reward
	}
	for _, setting := range ev.Assignment {
		fields["param_"+setting.Name] = setting.Value
	}
	s.write(ctx, influxdb2.NewPoint(
		MeasurementRound,
		map[string]string{
			"session":   s.session,
			"parameter": ev.Parameter,
		},
		fields,
		s.now(),
	))
}

func (s *InfluxSink) OnCompare(ctx context.Context, r *tuner.Report) {
	ts := s.now()
	points := make([]*write.Point, 0, len(r.Entries))
	for _, e := range r.Entries {
		if e.Failed {
			continue
		}
		fields := map[string]interface{}{
			"mean":  e.Mean,
			"score": e.Score,
		}
		if !math.IsNaN(e.Delta) {
			fields["delta_o2"] = e.Delta
		}
		points = append(points, influxdb2.NewPoint(
			MeasurementScore,
			map[string]string{"session": s.session, "config": e.Name},
			fields,
			ts,
		))
	}
	s.write(ctx, points...)
}

func (s *InfluxSink) write(ctx context.Context, points ...*write.Point) {
	if len(points) == 0 {
		return
	}
	if err := s.writer.WritePoint(ctx, points...); err != nil {
		s.failed.Add(int64(len(points)))
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("influx write failed", "points", len(points), "error", err)
		}
	}
}

var _ tuner.Observer = (*InfluxSink)(nil)
