// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const searchTracerName = "parcel.search"

// Tracer provides OpenTelemetry tracing for learning runs.
//
// Thread Safety: Safe for concurrent use.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a tracer using the global tracer provider.
//
// Inputs:
//   - logger: Logger for structured logging (nil uses slog.Default()).
//   - config: Observability configuration.
//
// Outputs:
//   - *Tracer: Tracer instance.
func NewTracer(logger *slog.Logger, config ObservabilityConfig) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(searchTracerName),
		logger:  logger,
		enabled: config.TracingEnabled,
	}
}

// StartRun starts a span for an entire learning run.
//
// Inputs:
//   - ctx: Parent context.
//   - runID: The run identifier.
//   - positives, negatives: Example set sizes.
//   - cfg: The run configuration.
//
// Outputs:
//   - context.Context: Context with span.
//   - trace.Span: The created span (noop if tracing disabled).
func (t *Tracer) StartRun(ctx context.Context, runID string, positives, negatives int, cfg Config) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "parcel.run",
		trace.WithAttributes(
			attribute.String("parcel.run_id", runID),
			attribute.Int("parcel.positives", positives),
			attribute.Int("parcel.negatives", negatives),
			attribute.Int("parcel.workers", cfg.NumberOfWorkers),
			attribute.Float64("parcel.noise_percentage", cfg.NoisePercentage),
			attribute.String("parcel.combination", string(cfg.Combination)),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndRun completes the run span.
//
// Inputs:
//   - span: The span to end.
//   - report: The run report (can be nil on error).
//   - err: Error if the run failed.
func (t *Tracer) EndRun(span trace.Span, report *Report, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	if report != nil {
		span.SetAttributes(
			attribute.String("parcel.result.reason", string(report.Reason)),
			attribute.Int64("parcel.result.evaluated", report.Stats.ExpressionsEvaluated),
			attribute.Int("parcel.result.partial_definitions", len(report.PartialDefinitions)),
			attribute.Int("parcel.result.reduced", len(report.Reduced)),
			attribute.Float64("parcel.result.accuracy", report.Accuracy),
			attribute.String("parcel.result.elapsed", report.Duration.String()),
		)
	}
	span.End()
}

// StartTask starts a span for one refinement task.
func (t *Tracer) StartTask(ctx context.Context, node *SearchNode) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "parcel.task",
		trace.WithAttributes(
			attribute.Int("parcel.node_id", node.ID),
			attribute.Int("parcel.node_length", node.Expression.Length()),
			attribute.Int64("parcel.horizontal_expansion", int64(node.HorizontalExpansion)),
			attribute.Float64("parcel.score", node.Score),
		),
	)
}

// EndTask completes a task span with the batch it produced.
func (t *Tracer) EndTask(span trace.Span, batch *ClassifiedBatch) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.Int("parcel.task.evaluated", batch.Evaluated),
		attribute.Int("parcel.task.partials", len(batch.Partials)),
		attribute.Int("parcel.task.counter_partials", len(batch.CounterPartials)),
		attribute.Int("parcel.task.candidates", len(batch.Candidates)),
		attribute.Bool("parcel.task.interrupted", batch.Interrupted),
	)
	span.End()
}

// StartRecombination starts a span for the recombination pass.
func (t *Tracer) StartRecombination(ctx context.Context, leftovers, counters int) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "parcel.recombine",
		trace.WithAttributes(
			attribute.Int("parcel.leftover_nodes", leftovers),
			attribute.Int("parcel.counter_partials", counters),
		),
	)
}

// LoggerWithTrace returns a logger carrying the span's trace and span IDs.
func (t *Tracer) LoggerWithTrace(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return t.logger
	}
	return t.logger.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
