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
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/parcel/services/parcel/concept"
)

// LearningProblem is the pair of example sets to learn a definition for.
type LearningProblem struct {
	// Name labels the problem in logs and reports.
	Name string

	// Positives must be non-empty.
	Positives concept.IndividualSet

	// Negatives must not overlap Positives.
	Negatives concept.IndividualSet
}

// RefinementOperator produces the downward refinements of an expression.
//
// Implementations must be safe for concurrent use and should return
// promptly once ctx is cancelled.
type RefinementOperator interface {
	// Refine returns refinements of expr no longer than maxLength.
	Refine(ctx context.Context, expr *concept.Expr, maxLength int) ([]*concept.Expr, error)
}

// ReasonerOracle answers instance checks against the examples.
//
// Implementations must be safe for concurrent use.
type ReasonerOracle interface {
	// Coverage returns the subsets of positives and negatives that are
	// instances of expr.
	Coverage(ctx context.Context, expr *concept.Expr, positives, negatives concept.IndividualSet) (cp, cn concept.IndividualSet, err error)
}

// Option configures a Learner.
type Option func(*Learner)

// WithLogger sets the learner's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Learner) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithTracer sets the learner's tracer.
func WithTracer(tracer *Tracer) Option {
	return func(l *Learner) {
		if tracer != nil {
			l.tracer = tracer
		}
	}
}

// WithListener registers a callback for every accepted definition.
func WithListener(listener Listener) Option {
	return func(l *Learner) { l.listener = listener }
}

// WithClock overrides the time source used for node timestamps and the
// execution time limit.
func WithClock(now func() time.Time) Option {
	return func(l *Learner) {
		if now != nil {
			l.now = now
		}
	}
}

// Learner runs a parallel best-first refinement search for a definition of
// the positive examples that excludes the negatives.
//
// Description:
//
//	A single scheduler goroutine repeatedly takes the best node from the
//	frontier and submits it to a fixed worker pool. Workers refine the node,
//	evaluate each new child once with the reasoner and hand a classified
//	batch to the aggregator, which owns the accepted definitions and puts
//	mixed nodes back into the frontier. The run ends when the positives are
//	covered up to the noise allowance, when counter-partials cover every
//	negative, on timeout, on Stop, or when no work is left.
//
// Thread Safety: Start runs one search at a time. The query methods and
// Stop are safe to call concurrently with a running search.
type Learner struct {
	problem  LearningProblem
	oracle   ReasonerOracle
	operator RefinementOperator
	cfg      Config

	logger   *slog.Logger
	tracer   *Tracer
	listener Listener
	now      func() time.Time

	running atomic.Bool
	run     atomic.Pointer[runState]
}

// runState is everything one call to Start owns.
type runState struct {
	id             string
	startedAt      time.Time
	positives      concept.IndividualSet
	negatives      concept.IndividualSet
	noiseAllowance int
	policy         PlateauPolicy

	arena    *NodeArena
	seen     *DedupSet
	frontier *Frontier
	agg      *Aggregator
	pool     *WorkerPool
	factory  *nodeFactory
	logger   *slog.Logger

	evaluated atomic.Int64
	timeout   atomic.Bool
	stopped   atomic.Bool
	exhausted atomic.Bool
	finished  atomic.Bool
	elapsed   atomic.Int64

	report atomic.Pointer[Report]
}

func (rs *runState) terminated() bool {
	return rs.agg.Done() || rs.agg.CounterDone() || rs.timeout.Load() || rs.stopped.Load() || rs.exhausted.Load()
}

// NewLearner creates a learner for one problem.
//
// Inputs:
//   - problem: The examples. The sets are not modified.
//   - oracle: The reasoner used for coverage checks.
//   - operator: The refinement operator.
//   - cfg: Search configuration.
//   - opts: Optional settings.
//
// Outputs:
//   - *Learner: The learner. Configuration errors surface from Start.
func NewLearner(problem LearningProblem, oracle ReasonerOracle, operator RefinementOperator, cfg Config, opts ...Option) *Learner {
	l := &Learner{
		problem:  problem,
		oracle:   oracle,
		operator: operator,
		cfg:      cfg,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.tracer == nil {
		l.tracer = NewTracer(l.logger, cfg.Observability)
	}
	return l
}

func (l *Learner) validate() error {
	if err := l.cfg.Validate(); err != nil {
		return err
	}
	if l.oracle == nil {
		return ErrNoReasoner
	}
	if l.operator == nil {
		return ErrNoRefinementOperator
	}
	if l.problem.Positives.Len() == 0 {
		return ErrNoPositiveExamples
	}
	if l.problem.Positives.Intersects(l.problem.Negatives) {
		return ErrOverlappingExamples
	}
	return nil
}

// Start runs the search and blocks until it terminates.
//
// Description:
//
//	Cancelling ctx has the same effect as Stop. When the combination
//	strategy is after_search, leftover frontier nodes are combined with the
//	counter-partials once the workers have stopped. The accepted partial
//	definitions are then reduced by greedy coverage into the final
//	disjunction.
//
// Inputs:
//   - ctx: Context for cancellation and tracing.
//
// Outputs:
//   - *Report: The run outcome.
//   - error: A configuration or problem error, or ErrAlreadyRunning.
func (l *Learner) Start(ctx context.Context) (*Report, error) {
	if err := l.validate(); err != nil {
		return nil, err
	}
	if !l.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer l.running.Store(false)

	rs := l.newRun()
	ctx, span := l.tracer.StartRun(ctx, rs.id, rs.positives.Len(), rs.negatives.Len(), l.cfg)
	rs.logger = l.tracer.LoggerWithTrace(ctx).With(slog.String("run_id", rs.id))
	rs.agg.logger = rs.logger

	rs.logger.Info("learning started",
		slog.String("problem", l.problem.Name),
		slog.Int("positives", rs.positives.Len()),
		slog.Int("negatives", rs.negatives.Len()),
		slog.Int("noise_allowance", rs.noiseAllowance),
		slog.Int("workers", l.cfg.NumberOfWorkers),
		slog.String("combination", string(l.cfg.Combination)),
	)

	go rs.agg.Run()
	rs.pool.Start(ctx, l.cfg.NumberOfWorkers, func(ctx context.Context, n *SearchNode) {
		l.runTask(ctx, rs, n)
	})
	l.run.Store(rs)
	l.seed(rs)

	l.schedule(ctx, rs)
	l.shutdown(rs)
	rs.agg.Shutdown()

	if l.cfg.Combination == CombineAfterSearch {
		l.recombine(ctx, rs)
	}

	rs.elapsed.Store(int64(l.now().Sub(rs.startedAt)))
	rs.finished.Store(true)
	report := l.buildReport(rs)
	rs.report.Store(report)

	runsTotal.WithLabelValues(string(report.Reason)).Inc()
	frontierSize.Set(float64(rs.frontier.Len()))
	l.tracer.EndRun(span, report, nil)

	rs.logger.Info("learning finished",
		slog.String("reason", string(report.Reason)),
		slog.Duration("duration", report.Duration),
		slog.Int64("evaluated", report.Stats.ExpressionsEvaluated),
		slog.Int("partial_definitions", len(report.PartialDefinitions)),
		slog.Int("reduced", len(report.Reduced)),
		slog.Float64("accuracy", report.Accuracy),
	)
	return report, nil
}

func (l *Learner) newRun() *runState {
	positives := l.problem.Positives.Clone()
	negatives := l.problem.Negatives.Clone()
	if negatives == nil {
		negatives = concept.NewIndividualSet()
	}

	arena := NewNodeArena()
	seen := NewDedupSet()
	frontier := NewFrontier(seen)
	allowance := l.cfg.NoiseAllowance(positives.Len())

	agg := NewAggregator(positives, negatives, allowance, frontier, 4*l.cfg.NumberOfWorkers, l.logger)
	agg.listener = l.listener

	return &runState{
		id:             uuid.NewString(),
		startedAt:      l.now(),
		positives:      positives,
		negatives:      negatives,
		noiseAllowance: allowance,
		policy: PlateauPolicy{
			ForceLengthIncrease:    l.cfg.ForceRefinementLengthIncrease,
			MaxHorizontalExpansion: l.cfg.MaxHorizontalExpansion,
		},
		arena:    arena,
		seen:     seen,
		frontier: frontier,
		agg:      agg,
		pool:     NewWorkerPool(l.cfg.MaxTaskQueueLength),
		factory: &nodeFactory{
			arena:     arena,
			heuristic: l.cfg.Heuristic,
			positives: positives.Len(),
			negatives: negatives.Len(),
			now:       l.now,
		},
		logger: l.logger,
	}
}

// seed places the root Thing node. A root that already covers only
// positives is accepted directly as a partial definition.
func (l *Learner) seed(rs *runState) {
	root := rs.factory.root(concept.Thing(), rs.positives, rs.negatives)
	switch Classify(root, rs.policy) {
	case ClassPartial:
		rs.seen.Claim(root.Expression)
		rs.agg.OnPartials([]*SearchNode{root})
	default:
		rs.frontier.Insert(root)
	}
	if rs.positives.Len() <= rs.noiseAllowance {
		rs.agg.done.Store(true)
	}
}

// schedule is the scheduler loop. It returns once the run has terminated.
func (l *Learner) schedule(ctx context.Context, rs *runState) {
	limit := l.cfg.MaxExecutionTime()
	progress := rate.Sometimes{Interval: l.cfg.ProgressInterval}

	for !rs.terminated() {
		if ctx.Err() != nil {
			rs.stopped.Store(true)
			break
		}
		if limit > 0 && l.now().Sub(rs.startedAt) >= limit {
			rs.timeout.Store(true)
			rs.logger.Info("execution time limit reached", slog.Duration("limit", limit))
			break
		}

		node, ok := rs.frontier.TakeBest()
		if !ok {
			if rs.agg.Pending() == 0 && rs.frontier.Len() == 0 {
				rs.exhausted.Store(true)
				break
			}
			time.Sleep(l.cfg.IdleInterval)
			continue
		}

		for rs.pool.QueueLen() >= l.cfg.MaxTaskQueueLength && !rs.terminated() {
			time.Sleep(l.cfg.BackpressureInterval)
		}
		if rs.terminated() {
			rs.frontier.Requeue(node)
			break
		}

		rs.agg.pending.Add(1)
		if err := rs.pool.Submit(node); err != nil {
			rs.agg.pending.Add(-1)
			rs.frontier.Requeue(node)
			tasksTotal.WithLabelValues(taskRejected).Inc()
			if err == ErrPoolClosed {
				break
			}
		}
		frontierSize.Set(float64(rs.frontier.Len()))

		if l.cfg.ProgressInterval > 0 {
			progress.Do(func() { l.logProgress(rs) })
		}
	}
}

func (l *Learner) logProgress(rs *runState) {
	s := rs.agg.stats()
	rs.logger.Info("search progress",
		slog.Int64("evaluated", rs.evaluated.Load()),
		slog.Int("frontier", rs.frontier.Len()),
		slog.Int("partial_definitions", s.partials),
		slog.Int("uncovered_positive", s.uncovered),
		slog.Int("counter_partial_definitions", s.counters),
		slog.Uint64("max_horizontal_expansion", uint64(s.maxExpansion)),
	)
}

// shutdown stops the worker pool, waiting up to the grace period, and
// returns every queued node to the frontier.
func (l *Learner) shutdown(rs *runState) {
	drained, clean := rs.pool.Shutdown(l.cfg.StopGracePeriod)
	for _, n := range drained {
		rs.frontier.Requeue(n)
		rs.agg.pending.Add(-1)
		tasksTotal.WithLabelValues(taskRequeued).Inc()
	}
	if !clean {
		rs.logger.Warn("workers still running after grace period",
			slog.Duration("grace", l.cfg.StopGracePeriod),
		)
	}
}

// Stop ends the current search. It cancels the workers and returns without
// waiting; Start then gives them the configured grace period, puts queued
// and interrupted nodes back into the frontier and returns the report.
// Stop may be called from a Listener. Calling it more than once, or with no
// search running, has no effect.
func (l *Learner) Stop() {
	rs := l.run.Load()
	if rs == nil || rs.finished.Load() {
		return
	}
	if !rs.stopped.CompareAndSwap(false, true) {
		return
	}
	rs.logger.Info("stop requested")
	rs.pool.Cancel()
}

// recombine combines leftover frontier nodes with the counter-partials to
// form new partial definitions.
func (l *Learner) recombine(ctx context.Context, rs *runState) {
	leftovers := rs.frontier.Snapshot()
	counters := rs.agg.CounterPartialDefinitions()
	if len(leftovers) == 0 || len(counters) == 0 {
		return
	}
	_, span := l.tracer.StartRecombination(ctx, len(leftovers), len(counters))
	defer span.End()

	sort.SliceStable(leftovers, func(i, j int) bool {
		ci, cj := leftovers[i].CoveredPositive.Len(), leftovers[j].CoveredPositive.Len()
		if ci != cj {
			return ci > cj
		}
		return concept.Compare(leftovers[i].Expression, leftovers[j].Expression) < 0
	})

	accepted := 0
	for _, n := range leftovers {
		if combined := l.combineWithCounters(rs, n, counters); combined != nil {
			accepted += rs.agg.OnPartials([]*SearchNode{combined})
		}
	}
	rs.logger.Info("recombination finished",
		slog.Int("leftover_nodes", len(leftovers)),
		slog.Int("counter_partials", len(counters)),
		slog.Int("accepted", accepted),
	)
}

func (l *Learner) buildReport(rs *runState) *Report {
	partials := rs.agg.PartialDefinitions()
	reduced := Reduce(partials, rs.positives, rs.noiseAllowance)
	final := Union(reduced)
	stats := l.snapshot(rs)

	r := &Report{
		RunID:                     rs.id,
		Problem:                   l.problem.Name,
		StartedAt:                 rs.startedAt,
		Duration:                  stats.Elapsed,
		Done:                      rs.agg.Done(),
		CounterDone:               rs.agg.CounterDone(),
		Timeout:                   rs.timeout.Load(),
		Stopped:                   rs.stopped.Load(),
		Exhausted:                 rs.exhausted.Load(),
		NoiseAllowance:            rs.noiseAllowance,
		PartialDefinitions:        partials,
		CounterPartialDefinitions: rs.agg.CounterPartialDefinitions(),
		CombinedPartials:          rs.agg.stats().combined,
		Reduced:                   reduced,
		Final:                     final,
		Stats:                     stats,
	}
	r.Reason = reasonFor(r.Done, r.CounterDone, r.Timeout, r.Stopped, r.Exhausted)

	if final != nil {
		r.Grouped = concept.Group(final)
		covered := concept.NewIndividualSet()
		coveredNeg := concept.NewIndividualSet()
		for _, d := range reduced {
			covered.AddAll(d.Node.CoveredPositive)
			coveredNeg.AddAll(d.Node.CoveredNegative)
		}
		p, n := rs.positives.Len(), rs.negatives.Len()
		r.Completeness = fraction(covered.Len(), p)
		r.Accuracy = fraction(covered.Len()+n-coveredNeg.Len(), p+n)
	}
	return r
}

func (l *Learner) snapshot(rs *runState) Snapshot {
	s := rs.agg.stats()
	p, n := rs.positives.Len(), rs.negatives.Len()

	elapsed := time.Duration(rs.elapsed.Load())
	if !rs.finished.Load() {
		elapsed = l.now().Sub(rs.startedAt)
	}

	snap := Snapshot{
		RunID:                     rs.id,
		Running:                   !rs.finished.Load() && !rs.terminated(),
		ExpressionsEvaluated:      rs.evaluated.Load(),
		BestDescriptionLength:     s.bestDescriptionLength,
		BestAccuracy:              s.maxAccuracy,
		MaxHorizontalExpansion:    s.maxExpansion,
		FrontierSize:              rs.frontier.Len(),
		SeenExpressions:           rs.seen.Len(),
		PartialDefinitions:        s.partials,
		CounterPartialDefinitions: s.counters,
		UncoveredPositives:        s.uncovered,
		CoveredNegatives:          s.coveredNegatives,
		Accuracy:                  fraction(p-s.uncovered+n, p+n),
		Completeness:              fraction(p-s.uncovered, p),
		Elapsed:                   elapsed,
	}
	if best := rs.agg.PartialDefinitions(); len(best) > 0 {
		snap.BestDescription = best[0].Expression.String()
	}
	return snap
}

// Snapshot returns the monitoring counters of the current or last run.
//
// Outputs:
//   - Snapshot: The counters.
//   - bool: False if Start has never been called.
func (l *Learner) Snapshot() (Snapshot, bool) {
	rs := l.run.Load()
	if rs == nil {
		return Snapshot{}, false
	}
	return l.snapshot(rs), true
}

// Report returns the report of the last finished run, nil if none.
func (l *Learner) Report() *Report {
	rs := l.run.Load()
	if rs == nil {
		return nil
	}
	return rs.report.Load()
}

// IsRunning reports whether a search is in progress and has not yet met a
// termination condition.
func (l *Learner) IsRunning() bool {
	rs := l.run.Load()
	return l.running.Load() && rs != nil && !rs.terminated()
}

// IsTimeout reports whether the last run hit the time limit.
func (l *Learner) IsTimeout() bool {
	rs := l.run.Load()
	return rs != nil && rs.timeout.Load()
}

// TerminatedByPartialDefinitions reports whether enough positives were covered.
func (l *Learner) TerminatedByPartialDefinitions() bool {
	rs := l.run.Load()
	return rs != nil && rs.agg.Done()
}

// TerminatedByCounterDefinitions reports whether every negative was covered
// by counter-partials.
func (l *Learner) TerminatedByCounterDefinitions() bool {
	rs := l.run.Load()
	return rs != nil && rs.agg.CounterDone()
}

// PartialDefinitions returns the accepted partial definitions, most complete
// first.
func (l *Learner) PartialDefinitions() []*SearchNode {
	rs := l.run.Load()
	if rs == nil {
		return nil
	}
	return rs.agg.PartialDefinitions()
}

// CounterPartialDefinitions returns the accepted counter-partial definitions.
func (l *Learner) CounterPartialDefinitions() []*SearchNode {
	rs := l.run.Load()
	if rs == nil {
		return nil
	}
	return rs.agg.CounterPartialDefinitions()
}

// CurrentlyBestDescription returns the most complete partial definition
// found so far.
func (l *Learner) CurrentlyBestDescription() (*concept.Expr, bool) {
	defs := l.PartialDefinitions()
	if len(defs) == 0 {
		return nil, false
	}
	return defs[0].Expression, true
}

// CurrentlyBestDescriptions returns up to n partial definitions, most
// complete first. n <= 0 returns all of them.
func (l *Learner) CurrentlyBestDescriptions(n int) []*concept.Expr {
	defs := l.PartialDefinitions()
	if n > 0 && len(defs) > n {
		defs = defs[:n]
	}
	out := make([]*concept.Expr, len(defs))
	for i, d := range defs {
		out[i] = d.Expression
	}
	return out
}

// ReducedPartialDefinitions reduces the partial definitions found so far.
func (l *Learner) ReducedPartialDefinitions() []ReducedDefinition {
	rs := l.run.Load()
	if rs == nil {
		return nil
	}
	return Reduce(rs.agg.PartialDefinitions(), rs.positives, rs.noiseAllowance)
}

// Lineage returns the chain of nodes from the root to node, for explaining
// how a definition was derived.
func (l *Learner) Lineage(node *SearchNode) ([]*SearchNode, error) {
	rs := l.run.Load()
	if rs == nil {
		return nil, ErrNoRun
	}
	if got, ok := rs.arena.Get(node.ID); !ok || got != node {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownNode, node.ID)
	}
	return rs.arena.Lineage(node.ID), nil
}
