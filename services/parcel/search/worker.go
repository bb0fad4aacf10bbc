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
	"time"
)

// runTask refines one node and hands the classified result to the
// aggregator. It is the pool's TaskHandler for a run.
func (l *Learner) runTask(ctx context.Context, rs *runState, node *SearchNode) {
	start := time.Now()
	ctx, span := l.tracer.StartTask(ctx, node)
	batch, failed := l.refineNode(ctx, rs, node)
	l.tracer.EndTask(span, &batch)
	taskDurationSeconds.Observe(time.Since(start).Seconds())

	switch {
	case batch.Interrupted:
		tasksTotal.WithLabelValues(taskInterrupted).Inc()
	case failed:
		tasksTotal.WithLabelValues(taskFailed).Inc()
	default:
		tasksTotal.WithLabelValues(taskCompleted).Inc()
	}

	l.deliver(rs, batch)
}

// deliver submits batch to the aggregator. If the aggregator no longer
// accepts work the task node goes straight back to the frontier.
func (l *Learner) deliver(rs *runState, batch ClassifiedBatch) {
	if rs.agg.Submit(batch) {
		return
	}
	rs.frontier.Requeue(batch.Task)
	rs.agg.pending.Add(-1)
	tasksTotal.WithLabelValues(taskRequeued).Inc()
}

// refineNode expands node with the refinement operator and evaluates each
// new child once.
//
// Description:
//
//	Every child is claimed in the dedup set before it is sent to the
//	reasoner, so no expression is evaluated twice across workers. Children
//	are classified into partials, counter-partials and frontier candidates.
//	When the task completes, node itself is returned as a candidate with its
//	horizontal expansion raised by one, unless the plateau policy drops it.
//
//	If ctx is cancelled the batch is marked interrupted and carries node
//	unchanged as a candidate together with whatever was evaluated so far.
//
// Outputs:
//   - ClassifiedBatch: The classified results.
//   - bool: True if the refinement operator failed and node was dropped.
func (l *Learner) refineNode(ctx context.Context, rs *runState, node *SearchNode) (ClassifiedBatch, bool) {
	batch := ClassifiedBatch{Task: node}
	interrupt := func() (ClassifiedBatch, bool) {
		batch.Interrupted = true
		batch.Candidates = append(batch.Candidates, node)
		return batch, false
	}
	logger := rs.logger

	if ctx.Err() != nil {
		return interrupt()
	}

	refinements, err := l.operator.Refine(ctx, node.Expression, int(node.HorizontalExpansion)+1)
	if err != nil {
		if ctx.Err() != nil {
			return interrupt()
		}
		logger.Warn("refinement failed",
			slog.String("expression", node.Expression.String()),
			slog.String("error", err.Error()),
		)
		return batch, true
	}

	for _, expr := range refinements {
		if ctx.Err() != nil {
			return interrupt()
		}
		if !rs.seen.Claim(expr) {
			continue
		}

		cp, cn, err := l.oracle.Coverage(ctx, expr, rs.positives, rs.negatives)
		if err != nil {
			if ctx.Err() != nil {
				return interrupt()
			}
			oracleErrorsTotal.Inc()
			logger.Warn("coverage query failed",
				slog.String("expression", expr.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		batch.Evaluated++
		rs.evaluated.Add(1)
		expressionsEvaluatedTotal.Inc()

		child := rs.factory.child(node, expr, cp, cn)
		switch Classify(child, rs.policy) {
		case ClassPartial:
			batch.Partials = append(batch.Partials, child)
		case ClassCounterPartial:
			batch.CounterPartials = append(batch.CounterPartials, child)
		case ClassFrontier:
			if l.cfg.Combination == CombineInWorker {
				if combined := l.combineWithCounters(rs, child, rs.agg.CounterPartialSnapshot()); combined != nil {
					batch.Partials = append(batch.Partials, combined)
				}
			}
			batch.Candidates = append(batch.Candidates, child)
		}
	}

	if next := rs.factory.expanded(node); Classify(next, rs.policy) == ClassFrontier {
		batch.Candidates = append(batch.Candidates, next)
	}
	return batch, false
}

// combineWithCounters subtracts every usable counter-partial from n. It
// returns nil when nothing applies or the combined expression was already
// produced.
func (l *Learner) combineWithCounters(rs *runState, n *SearchNode, counters []*SearchNode) *SearchNode {
	with := Combinable(n, counters)
	if len(with) == 0 {
		return nil
	}
	if !rs.seen.Claim(CombinedExpression(n, with)) {
		return nil
	}
	return rs.factory.combine(n, with)
}
