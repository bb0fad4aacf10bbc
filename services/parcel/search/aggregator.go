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
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/parcel/services/parcel/concept"
)

// ClassifiedBatch is the result of one refinement task.
type ClassifiedBatch struct {
	// Task is the node that was refined.
	Task *SearchNode

	// Partials are new nodes covering positives only.
	Partials []*SearchNode

	// CounterPartials are new nodes covering negatives only.
	CounterPartials []*SearchNode

	// Candidates go back into the frontier. For an interrupted task this
	// holds the original task node.
	Candidates []*SearchNode

	// Evaluated is the number of reasoner calls the task made.
	Evaluated int

	// Interrupted is set when the task observed cancellation before finishing.
	Interrupted bool
}

// DefinitionKind distinguishes accepted definitions reported to listeners.
type DefinitionKind string

const (
	// DefinitionPartial is a definition covering positives only.
	DefinitionPartial DefinitionKind = "partial"

	// DefinitionCounterPartial is a definition covering negatives only.
	DefinitionCounterPartial DefinitionKind = "counter_partial"
)

// Listener is notified of every accepted definition. It runs on the
// aggregator goroutine and may call Learner.Stop.
type Listener func(kind DefinitionKind, node *SearchNode)

// Aggregator owns the shared state of one run.
//
// Workers hand batches to a single consumer goroutine through Submit, so
// state changes are applied one batch at a time. The callback methods also
// take a write lock so that monitoring readers can take consistent snapshots
// concurrently, and so the recombination pass can call OnPartials after the
// consumer has exited.
//
// Thread Safety: Safe for concurrent use.
type Aggregator struct {
	positives      concept.IndividualSet
	negatives      concept.IndividualSet
	noiseAllowance int
	frontier       *Frontier

	mu                    sync.RWMutex
	uncovered             concept.IndividualSet
	coveredNegatives      concept.IndividualSet
	partials              []*SearchNode
	counters              []*SearchNode
	combined              int
	maxAccuracy           float64
	bestDescriptionLength int
	maxExpansion          uint32

	counterSnapshot atomic.Pointer[[]*SearchNode]
	done            atomic.Bool
	counterDone     atomic.Bool
	pending         atomic.Int64

	inbox    chan ClassifiedBatch
	closeMu  sync.RWMutex
	closed   bool
	quit     chan struct{}
	finished chan struct{}

	listener Listener
	logger   *slog.Logger
}

// NewAggregator creates the run state for one run. Call Run to start the
// consumer goroutine.
//
// Inputs:
//   - positives, negatives: The example sets. Not modified.
//   - noiseAllowance: Number of positives that may stay uncovered.
//   - frontier: The run's frontier.
//   - inboxSize: Buffer size of the batch channel.
//   - logger: Logger (nil uses slog.Default()).
//
// Outputs:
//   - *Aggregator: The aggregator.
func NewAggregator(positives, negatives concept.IndividualSet, noiseAllowance int, frontier *Frontier, inboxSize int, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{
		positives:        positives,
		negatives:        negatives,
		noiseAllowance:   noiseAllowance,
		frontier:         frontier,
		uncovered:        positives.Clone(),
		coveredNegatives: concept.NewIndividualSet(),
		inbox:            make(chan ClassifiedBatch, inboxSize),
		quit:             make(chan struct{}),
		finished:         make(chan struct{}),
		logger:           logger,
	}
	empty := []*SearchNode{}
	a.counterSnapshot.Store(&empty)
	return a
}

// Run consumes batches until Shutdown. It must be called exactly once.
func (a *Aggregator) Run() {
	defer close(a.finished)
	for {
		select {
		case b := <-a.inbox:
			a.apply(b)
		case <-a.quit:
			for {
				select {
				case b := <-a.inbox:
					a.apply(b)
				default:
					return
				}
			}
		}
	}
}

// Submit hands a batch to the consumer. It returns false once Shutdown has
// begun; the caller then owns the batch's task node.
func (a *Aggregator) Submit(b ClassifiedBatch) bool {
	a.closeMu.RLock()
	defer a.closeMu.RUnlock()
	if a.closed {
		return false
	}
	a.inbox <- b
	return true
}

// Shutdown stops accepting batches, applies everything already submitted and
// waits for the consumer to exit. Safe to call more than once.
func (a *Aggregator) Shutdown() {
	a.closeMu.Lock()
	if a.closed {
		a.closeMu.Unlock()
		<-a.finished
		return
	}
	a.closed = true
	a.closeMu.Unlock()
	close(a.quit)
	<-a.finished
}

func (a *Aggregator) apply(b ClassifiedBatch) {
	a.OnPartials(b.Partials)
	a.OnCounterPartials(b.CounterPartials)
	a.OnFrontierCandidates(b.Candidates)
	a.pending.Add(-1)
}

// OnPartials accepts partial definitions that cover at least one still
// uncovered positive. Done is set as soon as the uncovered count reaches the
// noise allowance.
//
// Outputs:
//   - int: Number of accepted definitions.
func (a *Aggregator) OnPartials(batch []*SearchNode) int {
	if len(batch) == 0 {
		return 0
	}
	var accepted []*SearchNode

	a.mu.Lock()
	for _, def := range batch {
		if a.uncovered.RemoveAll(def.CoveredPositive) == 0 {
			continue
		}
		a.partials = append(a.partials, def)
		accepted = append(accepted, def)
		if len(def.CompositeList) > 0 {
			a.combined++
		}
		a.observe(def)

		acc := def.Accuracy(a.positives.Len(), a.negatives.Len())
		if acc > a.maxAccuracy {
			a.maxAccuracy = acc
			a.bestDescriptionLength = def.Expression.Length()
		}
		if a.uncovered.Len() <= a.noiseAllowance {
			a.done.Store(true)
		}
	}
	uncovered := a.uncovered.Len()
	a.mu.Unlock()

	for _, def := range accepted {
		kind := definitionPartial
		if len(def.CompositeList) > 0 {
			kind = definitionCombined
		}
		definitionsAcceptedTotal.WithLabelValues(kind).Inc()
		a.logger.Info("partial definition found",
			slog.String("expression", def.Expression.String()),
			slog.Int("covered_positive", def.CoveredPositive.Len()),
			slog.Int("uncovered_positive", uncovered),
			slog.Int("composite", len(def.CompositeList)),
		)
		if a.listener != nil {
			a.listener(DefinitionPartial, def)
		}
	}
	return len(accepted)
}

// OnCounterPartials accepts counter-partial definitions that cover at least
// one negative not yet covered. CounterDone is set once every negative is
// covered.
//
// Outputs:
//   - int: Number of accepted definitions.
func (a *Aggregator) OnCounterPartials(batch []*SearchNode) int {
	if len(batch) == 0 {
		return 0
	}
	var accepted []*SearchNode

	a.mu.Lock()
	for _, def := range batch {
		if a.coveredNegatives.AddAll(def.CoveredNegative) == 0 {
			continue
		}
		a.counters = append(a.counters, def)
		accepted = append(accepted, def)
		a.observe(def)
		if a.coveredNegatives.Len() >= a.negatives.Len() {
			a.counterDone.Store(true)
		}
	}
	if len(accepted) > 0 {
		snapshot := append([]*SearchNode(nil), a.counters...)
		a.counterSnapshot.Store(&snapshot)
	}
	a.mu.Unlock()

	for _, def := range accepted {
		definitionsAcceptedTotal.WithLabelValues(definitionCounterPartial).Inc()
		a.logger.Debug("counter partial definition found",
			slog.String("expression", def.Expression.String()),
			slog.Int("covered_negative", def.CoveredNegative.Len()),
		)
		if a.listener != nil {
			a.listener(DefinitionCounterPartial, def)
		}
	}
	return len(accepted)
}

// OnFrontierCandidates puts nodes back into the frontier.
func (a *Aggregator) OnFrontierCandidates(batch []*SearchNode) {
	if len(batch) == 0 {
		return
	}
	a.mu.Lock()
	for _, n := range batch {
		a.observe(n)
	}
	a.mu.Unlock()
	for _, n := range batch {
		a.frontier.Requeue(n)
	}
	frontierSize.Set(float64(a.frontier.Len()))
}

// observe tracks the largest horizontal expansion seen. Caller holds mu.
func (a *Aggregator) observe(n *SearchNode) {
	if n.HorizontalExpansion > a.maxExpansion {
		a.maxExpansion = n.HorizontalExpansion
	}
}

// Done reports whether the uncovered positives reached the noise allowance.
func (a *Aggregator) Done() bool { return a.done.Load() }

// CounterDone reports whether every negative is covered by a counter-partial.
func (a *Aggregator) CounterDone() bool { return a.counterDone.Load() }

// Pending returns the number of submitted tasks whose batch is not applied yet.
func (a *Aggregator) Pending() int64 { return a.pending.Load() }

// CounterPartialSnapshot returns the counter-partials accepted so far.
// The slice is shared and must not be modified.
func (a *Aggregator) CounterPartialSnapshot() []*SearchNode {
	return *a.counterSnapshot.Load()
}

// PartialDefinitions returns the accepted partial definitions ordered by
// completeness: most positives first, then shorter, then canonical order.
func (a *Aggregator) PartialDefinitions() []*SearchNode {
	a.mu.RLock()
	out := append([]*SearchNode(nil), a.partials...)
	a.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := out[i].CoveredPositive.Len(), out[j].CoveredPositive.Len()
		if ci != cj {
			return ci > cj
		}
		return concept.Compare(out[i].Expression, out[j].Expression) < 0
	})
	return out
}

// CounterPartialDefinitions returns the accepted counter-partial definitions
// in acceptance order.
func (a *Aggregator) CounterPartialDefinitions() []*SearchNode {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]*SearchNode(nil), a.counters...)
}

// UncoveredPositives returns a copy of the positives not yet covered.
func (a *Aggregator) UncoveredPositives() concept.IndividualSet {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.uncovered.Clone()
}

// CoveredNegatives returns a copy of the negatives covered by counter-partials.
func (a *Aggregator) CoveredNegatives() concept.IndividualSet {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.coveredNegatives.Clone()
}

// aggregateStats is a consistent view of the counters guarded by mu.
type aggregateStats struct {
	uncovered             int
	coveredNegatives      int
	partials              int
	counters              int
	combined              int
	maxAccuracy           float64
	bestDescriptionLength int
	maxExpansion          uint32
}

func (a *Aggregator) stats() aggregateStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return aggregateStats{
		uncovered:             a.uncovered.Len(),
		coveredNegatives:      a.coveredNegatives.Len(),
		partials:              len(a.partials),
		counters:              len(a.counters),
		combined:              a.combined,
		maxAccuracy:           a.maxAccuracy,
		bestDescriptionLength: a.bestDescriptionLength,
		maxExpansion:          a.maxExpansion,
	}
}
