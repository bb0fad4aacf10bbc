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
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/parcel/services/parcel/concept"
)

// individuals builds a set named prefix+from .. prefix+to.
func individuals(prefix string, from, to int) concept.IndividualSet {
	s := concept.NewIndividualSet()
	for i := from; i <= to; i++ {
		s.Add(concept.Individual(fmt.Sprintf("%s%d", prefix, i)))
	}
	return s
}

func set(names ...string) concept.IndividualSet {
	s := concept.NewIndividualSet()
	for _, n := range names {
		s.Add(concept.Individual(n))
	}
	return s
}

func union(sets ...concept.IndividualSet) concept.IndividualSet {
	out := concept.NewIndividualSet()
	for _, s := range sets {
		out.AddAll(s)
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig is a small, fast configuration for tests.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.NumberOfWorkers = 2
	cfg.MaxExecutionTimeInSeconds = 10
	cfg.MaxHorizontalExpansion = 3
	cfg.StopGracePeriod = time.Second
	cfg.BackpressureInterval = time.Millisecond
	cfg.IdleInterval = time.Millisecond
	cfg.ProgressInterval = 0
	cfg.Observability.TracingEnabled = false
	return cfg
}

// graphOperator refines expressions along a fixed table keyed by the
// expression string. Unknown expressions have no refinements.
type graphOperator struct {
	edges map[string][]*concept.Expr
}

func (g *graphOperator) Refine(ctx context.Context, expr *concept.Expr, _ int) ([]*concept.Expr, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.edges[expr.String()], nil
}

// tableOracle answers coverage from a fixed table and counts calls per
// expression.
type tableOracle struct {
	coverage map[string][2]concept.IndividualSet
	delay    time.Duration

	mu    sync.Mutex
	calls map[string]int
}

func newTableOracle() *tableOracle {
	return &tableOracle{
		coverage: make(map[string][2]concept.IndividualSet),
		calls:    make(map[string]int),
	}
}

func (o *tableOracle) set(expr *concept.Expr, cp, cn concept.IndividualSet) {
	o.coverage[expr.String()] = [2]concept.IndividualSet{cp, cn}
}

func (o *tableOracle) Coverage(ctx context.Context, expr *concept.Expr, positives, negatives concept.IndividualSet) (concept.IndividualSet, concept.IndividualSet, error) {
	o.mu.Lock()
	o.calls[expr.String()]++
	o.mu.Unlock()

	if o.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(o.delay):
		}
	}
	c, ok := o.coverage[expr.String()]
	if !ok {
		return nil, nil, fmt.Errorf("no coverage for %s", expr)
	}
	return c[0].Intersect(positives), c[1].Intersect(negatives), nil
}

func (o *tableOracle) callCounts() map[string]int {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]int, len(o.calls))
	for k, v := range o.calls {
		out[k] = v
	}
	return out
}

// endlessOperator produces two fresh classes for every refinement, so the
// search never runs out of work.
type endlessOperator struct {
	mu   sync.Mutex
	next int
}

func (e *endlessOperator) Refine(ctx context.Context, _ *concept.Expr, _ int) ([]*concept.Expr, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	a, b := e.next, e.next+1
	e.next += 2
	return []*concept.Expr{
		concept.Class(fmt.Sprintf("K%d", a)),
		concept.Class(fmt.Sprintf("K%d", b)),
	}, nil
}

// mixedOracle says every expression covers one positive and one negative.
type mixedOracle struct {
	delay time.Duration
}

func (m mixedOracle) Coverage(ctx context.Context, _ *concept.Expr, positives, negatives concept.IndividualSet) (concept.IndividualSet, concept.IndividualSet, error) {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(m.delay):
		}
	}
	return set(string(positives.Sorted()[0])), set(string(negatives.Sorted()[0])), nil
}

// sameSet reports whether a and b hold the same individuals.
func sameSet(a, b concept.IndividualSet) bool {
	return a.Len() == b.Len() && a.IsSubsetOf(b)
}
