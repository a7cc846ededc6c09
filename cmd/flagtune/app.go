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
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/flagtune/cmd/flagtune/config"
	"github.com/AleutianAI/flagtune/cmd/flagtune/internal/process"
	"github.com/AleutianAI/flagtune/pkg/logging"
	"github.com/AleutianAI/flagtune/pkg/ux"
	"github.com/AleutianAI/flagtune/services/tune/measure"
	"github.com/AleutianAI/flagtune/services/tune/sink"
	"github.com/AleutianAI/flagtune/services/tune/store"
	"github.com/AleutianAI/flagtune/services/tune/telemetry"
	"github.com/AleutianAI/flagtune/services/tune/tuner"
)

// deps are the collaborators newApp would otherwise build from the config.
type deps struct {
	// out receives progress and result tables.
	out  io.Writer
	mode ux.Mode

	// runner executes the compiler for discovery and, through the GCC
	// driver, for builds. nil selects an ExecRunner.
	runner measure.Runner

	// measurer replaces the GCC driver when set.
	measurer measure.Measurer

	// logger replaces the configured logger when set.
	logger *logging.Logger
}

// app is one CLI invocation's wiring: lock, logger, telemetry, store,
// measurer, observers and tuner.
type app struct {
	cfg     config.FlagtuneConfig
	printer *ux.Printer
	logger  *logging.Logger
	lock    *process.WorkspaceLock
	store   store.PhaseStore
	runner  measure.Runner
	tuner   *tuner.Tuner
	session string

	// rootLogger is closed by Close when newApp created it.
	rootLogger *logging.Logger

	influx            *sink.InfluxSink
	shutdownTelemetry func(context.Context) error
}

// newApp builds the wiring for cfg. The returned app must be closed.
//
// # Description
//
// Takes the workspace lock first so a second process fails before it
// touches the store. The InfluxDB sink is optional: a failed health check
// is logged and tuning continues without it.
func newApp(ctx context.Context, cfg config.FlagtuneConfig, d deps) (a *app, err error) {
	a = &app{cfg: cfg, printer: ux.NewPrinter(d.out, d.mode)}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	a.lock = process.NewWorkspaceLock(cfg.Workspace.Dir)
	if err := a.lock.Acquire(); err != nil {
		return a, err
	}

	a.logger = d.logger
	if a.logger == nil {
		a.rootLogger = logging.New(cfg.LoggingConfig())
		a.logger = a.rootLogger
	}

	a.shutdownTelemetry, err = telemetry.Init(ctx, cfg.Telemetry.Config)
	if err != nil {
		return a, fmt.Errorf("init telemetry: %w", err)
	}

	a.store, err = cfg.OpenStore(a.logger)
	if err != nil {
		return a, fmt.Errorf("open %s store: %w", cfg.Workspace.Store, err)
	}
	a.session = resolveSession(ctx, a.store)
	a.logger = a.logger.With("session", a.session)

	a.runner = d.runner
	if a.runner == nil {
		a.runner = measure.NewExecRunner(cfg.Compiler.Timeout)
	}
	m := d.measurer
	if m == nil {
		gcc, err := measure.NewGCC(cfg.GCCConfig(), a.runner)
		if err != nil {
			return a, fmt.Errorf("configure compiler: %w", err)
		}
		m = gcc
	}

	observers, err := a.observers(ctx, d)
	if err != nil {
		return a, err
	}

	opts := []tuner.Option{
		tuner.WithLogger(a.logger),
		tuner.WithObserver(observers),
		tuner.WithSessionID(a.session),
	}
	if cfg.Bandit.Seed != 0 {
		opts = append(opts, tuner.WithSeed(cfg.Bandit.Seed))
	}
	a.tuner, err = tuner.New(ctx, m, a.store, cfg.TunerConfig(), opts...)
	if err != nil {
		return a, err
	}
	return a, nil
}

// observers assembles progress rendering, metrics and the optional sink.
func (a *app) observers(ctx context.Context, d deps) (tuner.MultiObserver, error) {
	metrics, err := telemetry.NewMetrics(otel.Meter("flagtune"))
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}
	obs := tuner.MultiObserver{
		ux.NewProgressObserver(d.out, d.mode),
		tuner.NewMetricsObserver(metrics),
	}

	if a.cfg.Influx.Enabled {
		s, err := sink.Dial(ctx, a.cfg.Influx, a.session, a.logger)
		if err != nil {
			a.logger.Warn("influxdb sink disabled", "url", a.cfg.Influx.URL, "error", err)
		} else {
			a.influx = s
			obs = append(obs, s)
		}
	}
	return obs, nil
}

// resolveSession reuses the id kept by the store, or starts a new one.
func resolveSession(ctx context.Context, st store.PhaseStore) string {
	if ss, ok := st.(store.SessionStore); ok {
		if s, err := ss.Session(ctx); err == nil && s.ID != "" {
			return s.ID
		}
	}
	return uuid.NewString()
}

// discoverer queries the configured compiler.
func (a *app) discoverer() *measure.Discoverer {
	return measure.NewDiscoverer(a.cfg.Compiler.CC, a.runner)
}

// Close releases everything newApp acquired, in reverse order.
func (a *app) Close() error {
	var errs []error
	if a.influx != nil {
		if n := a.influx.Failed(); n > 0 && a.logger != nil {
			a.logger.Warn("influxdb points dropped", "count", n)
		}
		a.influx.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if a.shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.shutdownTelemetry(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
		cancel()
	}
	if a.rootLogger != nil {
		_ = a.rootLogger.Close()
	}
	if a.lock != nil {
		if err := a.lock.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
