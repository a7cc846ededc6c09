// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry provides OpenTelemetry-based observability for tuning runs.
//
// Every tuning phase runs inside a span, and the tuner's progress (compiles,
// runs, candidate decisions, bandit rewards) is recorded through the
// instruments in Metrics.
//
// # Philosophy
//
// OpenTelemetry IS the abstraction layer. Code uses the OTel APIs directly
// and backends are chosen by exporter configuration, not code.
//
// # Backends
//
//   - Traces: OTLP over gRPC, stdout, or none (default none; a tuning run
//     is a local batch job).
//   - Metrics: Prometheus (scraped from /metrics while a run is in
//     progress), stdout, or none.
//
// # Usage
//
//	shutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
//
//	metrics, err := telemetry.NewMetrics(otel.Meter("flagtune"))
//
// # Environment Variables
//
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint (default: localhost:4317)
//   - OTEL_TRACES_EXPORTER: otlp, stdout, or none
//   - OTEL_METRICS_EXPORTER: prometheus, stdout, or none
//
// # Thread Safety
//
// Init is called once at startup. Everything else is safe for concurrent use.
package telemetry
