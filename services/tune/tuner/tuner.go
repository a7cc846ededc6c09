// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tuner searches a compiler's flag and parameter space for the
// configuration that minimizes a measured objective.
//
// A tuning session runs five phases in order:
//
//	baseline    measure the base configuration and fit a reference distribution
//	flags       keep the flags that significantly lower the objective alone
//	parameters  keep the parameters whose extreme values differ significantly
//	bandit      choose a value per kept parameter with LinUCB
//	compare     measure standard levels against the tuned configurations
//
// Every phase persists its result in a store.PhaseStore and returns the
// persisted result without measuring when it is run again. Compilation
// and measurement go through a measure.Measurer, so the whole pipeline
// runs against measure.MockMeasurer in tests.
package tuner

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/flagtune/pkg/logging"
	"github.com/AleutianAI/flagtune/services/tune/measure"
	"github.com/AleutianAI/flagtune/services/tune/store"
	"github.com/AleutianAI/flagtune/services/tune/telemetry"
)

// Tuner runs the tuning phases against one measurer and one store.
//
// # Thread Safety
//
// Tuner is not safe for concurrent use. Phases block on every compile and
// run and are meant to be called from a single goroutine.
type Tuner struct {
	measurer measure.Measurer
	store    store.PhaseStore
	cfg      Config
	logger   *logging.Logger
	observer Observer
	rng      *rand.Rand
	session  string

	baseline *Baseline
}

// Option configures a Tuner.
type Option func(*Tuner)

// WithLogger sets the logger. Default: logging.Nop().
func WithLogger(l *logging.Logger) Option {
	return func(t *Tuner) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithObserver sets the event observer. Default: NopObserver.
func WithObserver(o Observer) Option {
	return func(t *Tuner) {
		if o != nil {
			t.observer = o
		}
	}
}

// WithSeed seeds the random source used by the bandit's top-n choice.
func WithSeed(seed uint64) Option {
	return func(t *Tuner) {
		t.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithSessionID overrides the session id attached to logs and spans.
func WithSessionID(id string) Option {
	return func(t *Tuner) {
		if id != "" {
			t.session = id
		}
	}
}

// New creates a Tuner.
//
// # Description
//
// Validates cfg and resolves the session id: an explicit WithSessionID
// wins, then the id kept by a store implementing store.SessionStore, then
// a fresh UUID.
//
// # Inputs
//
//   - ctx: Used only for the session lookup.
//   - m: Compiles and measures configurations.
//   - st: Persists phase results. The caller keeps ownership and closes it.
//   - cfg: Tuning hyperparameters.
//   - opts: Logger, observer, seed and session id.
//
// # Outputs
//
//   - *Tuner: Ready to run phases.
//   - error: A *ConfigurationError for invalid settings or missing
//     collaborators.
func New(ctx context.Context, m measure.Measurer, st store.PhaseStore, cfg Config, opts ...Option) (*Tuner, error) {
	if m == nil {
		return nil, configError("measurer", "is required")
	}
	if st == nil {
		return nil, configError("store", "is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Tuner{
		measurer: m,
		store:    st,
		cfg:      cfg,
		logger:   logging.Nop(),
		observer: NopObserver{},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.rng == nil {
		t.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 1))
	}
	if t.session == "" {
		if ss, ok := st.(store.SessionStore); ok {
			sess, err := ss.Session(ctx)
			if err != nil {
				return nil, fmt.Errorf("load session: %w", err)
			}
			t.session = sess.ID
		} else {
			t.session = uuid.NewString()
		}
	}
	t.logger = t.logger.With("session", t.session)
	return t, nil
}

// Config returns the tuner's settings.
func (t *Tuner) Config() Config {
	return t.cfg
}

// SessionID returns the id attached to this tuner's logs and spans.
func (t *Tuner) SessionID() string {
	return t.session
}

// Status returns the persisted status of every phase.
func (t *Tuner) Status(ctx context.Context) (map[store.Phase]store.Status, error) {
	return store.Statuses(ctx, t.store)
}

// -----------------------------------------------------------------------------
// Phase lifecycle
// -----------------------------------------------------------------------------

// phaseRun tracks one phase invocation for logging, tracing and events.
type phaseRun struct {
	t     *Tuner
	phase store.Phase
	span  trace.Span
	start time.Time
}

func (t *Tuner) startPhase(ctx context.Context, phase store.Phase, attrs ...attribute.KeyValue) (context.Context, *phaseRun) {
	attrs = append(attrs, attribute.String("session", t.session), attribute.String("phase", string(phase)))
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerName, "Tuner."+string(phase),
		trace.WithAttributes(attrs...),
	)
	t.observer.OnPhase(ctx, PhaseEvent{Phase: phase, State: PhaseStarted})
	return ctx, &phaseRun{t: t, phase: phase, span: span, start: time.Now()}
}

// skip ends a phase whose result was already persisted.
func (p *phaseRun) skip(ctx context.Context) {
	p.t.logger.Info("phase already completed, using persisted result", "phase", p.phase)
	telemetry.AddSpanEvent(p.span, "persisted_result")
	telemetry.SetSpanOK(p.span)
	p.span.End()
	p.t.observer.OnPhase(ctx, PhaseEvent{Phase: p.phase, State: PhaseSkipped, Duration: time.Since(p.start)})
}

// end closes the phase and passes err through.
func (p *phaseRun) end(ctx context.Context, err error) error {
	d := time.Since(p.start)
	if err != nil {
		telemetry.RecordError(p.span, err)
		p.t.logger.Error("phase failed", "phase", p.phase, "duration", d, "error", err)
		p.t.observer.OnPhase(ctx, PhaseEvent{Phase: p.phase, State: PhaseFailed, Duration: d, Err: err})
	} else {
		telemetry.SetSpanOK(p.span)
		p.t.logger.Info("phase completed", "phase", p.phase, "duration", d)
		p.t.observer.OnPhase(ctx, PhaseEvent{Phase: p.phase, State: PhaseCompleted, Duration: d})
	}
	p.span.End()
	return err
}

func (t *Tuner) completed(ctx context.Context, phase store.Phase) (bool, error) {
	st, err := t.store.Status(ctx, phase)
	if err != nil {
		return false, fmt.Errorf("read %s status: %w", phase, err)
	}
	return st == store.Completed, nil
}

// require returns a *PreconditionError when dep has no persisted result.
func (t *Tuner) require(ctx context.Context, phase, dep store.Phase) error {
	done, err := t.completed(ctx, dep)
	if err != nil {
		return err
	}
	if !done {
		return &PreconditionError{Phase: phase, Requires: dep}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Measurement helpers
// -----------------------------------------------------------------------------

func (t *Tuner) compile(ctx context.Context, phase store.Phase, label string, flags []string, params []measure.Setting, additional string) error {
	err := t.measurer.Compile(ctx, flags, params, additional)
	t.observer.OnCompile(ctx, CompileEvent{Phase: phase, Label: label, Err: err})
	return err
}

// draw takes n measurements of the current build.
func (t *Tuner) draw(ctx context.Context, phase store.Phase, label string, n int) ([]float64, error) {
	samples := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := t.measurer.Run(ctx)
		if err != nil {
			return nil, err
		}
		samples = append(samples, v)
		t.observer.OnSample(ctx, SampleEvent{Phase: phase, Label: label, Index: i, Value: v})
	}
	return samples, nil
}

// aborted reports whether a failed compile or run must stop the phase.
// Anything else only disqualifies the candidate under test.
func aborted(ctx context.Context) bool {
	return ctx.Err() != nil
}
