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
	"time"

	"github.com/AleutianAI/parcel/services/parcel/concept"
)

// TerminationReason explains why a run ended.
type TerminationReason string

const (
	// ReasonPartialDefinitions means enough positives were covered.
	ReasonPartialDefinitions TerminationReason = "partial_definitions"

	// ReasonCounterDefinitions means every negative was covered by counter-partials.
	ReasonCounterDefinitions TerminationReason = "counter_definitions"

	// ReasonTimeout means the execution time limit elapsed.
	ReasonTimeout TerminationReason = "timeout"

	// ReasonStopped means Stop was called or the context was cancelled.
	ReasonStopped TerminationReason = "stopped"

	// ReasonExhausted means no node was left to refine.
	ReasonExhausted TerminationReason = "exhausted"
)

// Snapshot is a read-only view of a run's monitoring counters.
type Snapshot struct {
	RunID                     string        `json:"run_id"`
	Running                   bool          `json:"running"`
	ExpressionsEvaluated      int64         `json:"expressions_evaluated"`
	BestDescriptionLength     int           `json:"best_description_length"`
	BestAccuracy              float64       `json:"best_accuracy"`
	MaxHorizontalExpansion    uint32        `json:"max_horizontal_expansion"`
	FrontierSize              int           `json:"frontier_size"`
	SeenExpressions           int           `json:"seen_expressions"`
	PartialDefinitions        int           `json:"partial_definitions"`
	CounterPartialDefinitions int           `json:"counter_partial_definitions"`
	UncoveredPositives        int           `json:"uncovered_positives"`
	CoveredNegatives          int           `json:"covered_negatives"`
	Accuracy                  float64       `json:"accuracy"`
	Completeness              float64       `json:"completeness"`
	Elapsed                   time.Duration `json:"elapsed"`
	BestDescription           string        `json:"best_description,omitempty"`
}

// Report is the outcome of a finished run.
type Report struct {
	RunID     string            `json:"run_id"`
	Problem   string            `json:"problem"`
	Reason    TerminationReason `json:"reason"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`

	Done        bool `json:"done"`
	CounterDone bool `json:"counter_done"`
	Timeout     bool `json:"timeout"`
	Stopped     bool `json:"stopped"`
	Exhausted   bool `json:"exhausted"`

	NoiseAllowance            int                 `json:"noise_allowance"`
	PartialDefinitions        []*SearchNode       `json:"partial_definitions"`
	CounterPartialDefinitions []*SearchNode       `json:"counter_partial_definitions"`
	CombinedPartials          int                 `json:"combined_partials"`
	Reduced                   []ReducedDefinition `json:"reduced"`

	// Final is the union of the reduced definitions, nil if none.
	Final *concept.Expr `json:"final,omitempty"`

	// Grouped is Final rendered with negated conjuncts last.
	Grouped string `json:"grouped,omitempty"`

	// Accuracy and Completeness describe Final on the examples.
	Accuracy     float64 `json:"accuracy"`
	Completeness float64 `json:"completeness"`

	Stats Snapshot `json:"stats"`
}

// IsTimeout reports whether the time limit ended the run.
func (r *Report) IsTimeout() bool { return r.Timeout }

// TerminatedByPartialDefinitions reports whether the positives were covered.
func (r *Report) TerminatedByPartialDefinitions() bool { return r.Done }

// TerminatedByCounterDefinitions reports whether the negatives were covered.
func (r *Report) TerminatedByCounterDefinitions() bool { return r.CounterDone }

func reasonFor(done, counterDone, timeout, stopped, exhausted bool) TerminationReason {
	switch {
	case done:
		return ReasonPartialDefinitions
	case counterDone:
		return ReasonCounterDefinitions
	case timeout:
		return ReasonTimeout
	case stopped:
		return ReasonStopped
	case exhausted:
		return ReasonExhausted
	default:
		return ReasonStopped
	}
}
