// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")
	cfg := DefaultConfig()

	if cfg.ServiceName != "flagtune" {
		t.Errorf("ServiceName = %q, want %q", cfg.ServiceName, "flagtune")
	}
	if cfg.TraceExporter != "none" {
		t.Errorf("TraceExporter = %q, want %q", cfg.TraceExporter, "none")
	}
	if cfg.MetricExporter != "prometheus" {
		t.Errorf("MetricExporter = %q, want %q", cfg.MetricExporter, "prometheus")
	}
}

func TestDefaultConfig_EnvOverride(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")
	cfg := DefaultConfig()
	if cfg.TraceExporter != "stdout" {
		t.Errorf("TraceExporter = %q, want %q", cfg.TraceExporter, "stdout")
	}
}

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := Init(nil, Config{})
	if !errors.Is(err, ErrNilContext) {
		t.Errorf("Init(nil) error = %v, want %v", err, ErrNilContext)
	}
}

func TestInit_None(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{TraceExporter: "none", MetricExporter: "none"})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{TraceExporter: "zipkin", MetricExporter: "none"})
	if !errors.Is(err, ErrUnknownExporter) {
		t.Errorf("error = %v, want %v", err, ErrUnknownExporter)
	}

	_, err = Init(context.Background(), Config{TraceExporter: "none", MetricExporter: "statsd"})
	if !errors.Is(err, ErrUnknownExporter) {
		t.Errorf("error = %v, want %v", err, ErrUnknownExporter)
	}
}

func TestInit_StdoutTracer(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{TraceExporter: "stdout", MetricExporter: "none"})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer shutdown(context.Background())

	_, span := StartSpan(context.Background(), TracerName, "Tuner.Test")
	defer span.End()
	if !span.SpanContext().IsValid() {
		t.Error("expected valid span context")
	}
}

func TestMetricsHandler_Prometheus(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{TraceExporter: "none", MetricExporter: "prometheus"})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer shutdown(context.Background())

	metrics, err := NewMetrics(otel.Meter("telemetry_test"))
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	metrics.CompilesTotal.Add(context.Background(), 3, metric.WithAttributes(attribute.String("phase", "flags")))

	handler := MetricsHandler()
	if handler == nil {
		t.Fatal("MetricsHandler() returned nil")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "flagtune_compiles_total") {
		t.Errorf("metrics output lacks flagtune_compiles_total")
	}

	// A second Init must not fail on duplicate registration.
	shutdown2, err := Init(context.Background(), Config{TraceExporter: "none", MetricExporter: "prometheus"})
	if err != nil {
		t.Fatalf("second Init() error = %v", err)
	}
	shutdown2(context.Background())
}

func TestNewMetrics_Records(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	m, err := NewMetrics(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	ctx := context.Background()
	m.CompilesTotal.Add(ctx, 1)
	m.RunsTotal.Add(ctx, 2)
	m.Measurement.Record(ctx, 100)
	m.CandidatesTotal.Add(ctx, 1)
	m.BanditRoundsTotal.Add(ctx, 1)
	m.BanditReward.Record(ctx, 0.25)
	m.PhaseDuration.Record(ctx, 12)
	m.Score.Record(ctx, 97.5)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			names[md.Name] = true
		}
	}
	for _, want := range []string{
		"flagtune_compiles_total",
		"flagtune_runs_total",
		"flagtune_measurement",
		"flagtune_candidates_total",
		"flagtune_bandit_rounds_total",
		"flagtune_bandit_reward",
		"flagtune_phase_duration_seconds",
		"flagtune_score",
	} {
		if !names[want] {
			t.Errorf("metric %s not collected", want)
		}
	}
}

func TestRecordError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	RecordError(span, errors.New("compile failed"), attribute.String("flag", "-fbogus"))
	span.End()

	RecordError(nil, errors.New("ignored"))
	RecordError(span, nil)

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", spans[0].Status().Code)
	}
	if len(spans[0].Events()) != 1 {
		t.Errorf("events = %d, want 1", len(spans[0].Events()))
	}
}

func TestSetSpanOKAndEvents(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	AddSpanEvent(span, "flag_selected", attribute.String("flag", "-funroll-loops"))
	SetSpanOK(span)
	if TraceID(ctx) == "" {
		t.Error("TraceID() empty inside a span")
	}
	span.End()

	SetSpanOK(nil)
	AddSpanEvent(nil, "ignored")
	if TraceID(context.Background()) != "" {
		t.Error("TraceID() should be empty without a span")
	}

	got := rec.Ended()[0]
	if got.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", got.Status().Code)
	}
	if len(got.Events()) != 1 || got.Events()[0].Name != "flag_selected" {
		t.Errorf("events = %v", got.Events())
	}
}
