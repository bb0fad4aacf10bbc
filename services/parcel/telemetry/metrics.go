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
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics are the OpenTelemetry instruments recorded outside the search
// engine: whole runs as seen by the CLI, and the monitor's HTTP traffic.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// RunsTotal counts finished runs by termination reason.
	RunsTotal metric.Int64Counter

	// RunDuration records run wall time in seconds.
	RunDuration metric.Float64Histogram

	// DefinitionsTotal counts accepted definitions by kind.
	DefinitionsTotal metric.Int64Counter

	// HTTPRequestsTotal counts monitor requests by route and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records monitor request latency in seconds.
	HTTPRequestDuration metric.Float64Histogram
}

// NewMetrics registers the instruments with meter.
//
// Example:
//
//	metrics, err := telemetry.NewMetrics(otel.Meter("parcel"))
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.RunsTotal, err = meter.Int64Counter(
		"parcel_runs_total",
		metric.WithDescription("Finished learning runs"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, fmt.Errorf("create parcel_runs_total: %w", err)
	}

	if m.RunDuration, err = meter.Float64Histogram(
		"parcel_run_duration_seconds",
		metric.WithDescription("Learning run wall time"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 300, 900),
	); err != nil {
		return nil, fmt.Errorf("create parcel_run_duration_seconds: %w", err)
	}

	if m.DefinitionsTotal, err = meter.Int64Counter(
		"parcel_definitions_total",
		metric.WithDescription("Definitions reported to run listeners"),
		metric.WithUnit("{definition}"),
	); err != nil {
		return nil, fmt.Errorf("create parcel_definitions_total: %w", err)
	}

	if m.HTTPRequestsTotal, err = meter.Int64Counter(
		"parcel_http_requests_total",
		metric.WithDescription("Monitor HTTP requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("create parcel_http_requests_total: %w", err)
	}

	if m.HTTPRequestDuration, err = meter.Float64Histogram(
		"parcel_http_request_duration_seconds",
		metric.WithDescription("Monitor HTTP request latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1),
	); err != nil {
		return nil, fmt.Errorf("create parcel_http_request_duration_seconds: %w", err)
	}

	return m, nil
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(ctx context.Context, reason string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("reason", reason))
	m.RunsTotal.Add(ctx, 1, attrs)
	m.RunDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordDefinition records one accepted definition.
func (m *Metrics) RecordDefinition(ctx context.Context, kind string) {
	m.DefinitionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordRequest records one monitor request.
func (m *Metrics) RecordRequest(ctx context.Context, route string, status int, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), attrs)
}
