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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values for definitionsAcceptedTotal.
const (
	definitionPartial        = "partial"
	definitionCounterPartial = "counter_partial"
	definitionCombined       = "combined"
)

// Label values for tasksTotal.
const (
	taskCompleted   = "completed"
	taskInterrupted = "interrupted"
	taskFailed      = "failed"
	taskRejected    = "rejected"
	taskRequeued    = "requeued"
)

var (
	// expressionsEvaluatedTotal counts reasoner coverage queries.
	expressionsEvaluatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "parcel",
			Subsystem: "search",
			Name:      "expressions_evaluated_total",
			Help:      "Total number of expressions evaluated by the reasoner oracle",
		},
	)

	// definitionsAcceptedTotal counts accepted definitions by kind.
	//
	// Labels:
	//   - kind: "partial", "counter_partial" or "combined"
	definitionsAcceptedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parcel",
			Subsystem: "search",
			Name:      "definitions_accepted_total",
			Help:      "Total number of accepted definitions by kind",
		},
		[]string{"kind"},
	)

	// tasksTotal counts task outcomes.
	//
	// Labels:
	//   - outcome: "completed", "interrupted", "failed", "rejected" or "requeued"
	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parcel",
			Subsystem: "search",
			Name:      "tasks_total",
			Help:      "Total number of refinement tasks by outcome",
		},
		[]string{"outcome"},
	)

	// oracleErrorsTotal counts failed reasoner or operator calls.
	oracleErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "parcel",
			Subsystem: "search",
			Name:      "oracle_errors_total",
			Help:      "Total number of failed reasoner or refinement operator calls",
		},
	)

	// frontierSize tracks the number of nodes awaiting refinement.
	frontierSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "parcel",
			Subsystem: "search",
			Name:      "frontier_size",
			Help:      "Number of nodes in the search frontier",
		},
	)

	// taskDurationSeconds tracks refinement task latency.
	taskDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "parcel",
			Subsystem: "search",
			Name:      "task_duration_seconds",
			Help:      "Duration of refinement tasks in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
	)

	// runsTotal counts finished runs by termination reason.
	//
	// Labels:
	//   - reason: see TerminationReason
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parcel",
			Subsystem: "search",
			Name:      "runs_total",
			Help:      "Total number of finished learning runs by termination reason",
		},
		[]string{"reason"},
	)
)
