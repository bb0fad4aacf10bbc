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
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/AleutianAI/parcel/services/parcel/concept"
	"github.com/AleutianAI/parcel/services/parcel/kb"
)

var (
	exprA = concept.Class("A")
	exprB = concept.Class("B")
	exprC = concept.Class("C")
	exprD = concept.Class("D")
	exprX = concept.Class("X")
)

// threeWayProblem: Thing refines to a partial A, a counter-partial B and a mixed D;
// D refines to a partial C covering the rest of the positives.
func threeWayProblem() (LearningProblem, *graphOperator, *tableOracle) {
	pos, neg := individuals("p", 1, 10), individuals("n", 1, 10)
	op := &graphOperator{edges: map[string][]*concept.Expr{
		"Thing": {exprA, exprB, exprD},
		"D":     {exprC},
	}}
	oracle := newTableOracle()
	oracle.set(exprA, individuals("p", 1, 6), set())
	oracle.set(exprB, set(), individuals("n", 7, 10))
	oracle.set(exprD, individuals("p", 7, 10), set("n1", "n2"))
	oracle.set(exprC, individuals("p", 7, 10), set())
	return LearningProblem{Name: "three-way", Positives: pos, Negatives: neg}, op, oracle
}

func approx(got, want float64) bool { return math.Abs(got-want) < 1e-9 }

type startResult struct {
	report *Report
	err    error
}

// startAsync runs Start on its own goroutine.
func startAsync(l *Learner) <-chan startResult {
	done := make(chan startResult, 1)
	go func() {
		r, err := l.Start(context.Background())
		done <- startResult{r, err}
	}()
	return done
}

// waitFor polls cond until it holds or timeout passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// awaitStart waits for a Start launched by startAsync.
func awaitStart(t *testing.T, done <-chan startResult, timeout time.Duration) *Report {
	t.Helper()
	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("Start: %v", res.err)
		}
		return res.report
	case <-time.After(timeout):
		t.Fatalf("Start did not return within %s", timeout)
		return nil
	}
}

func TestLearner_PartialsCoverAllPositives(t *testing.T) {
	defer goleak.VerifyNone(t)

	problem, op, oracle := threeWayProblem()
	l := NewLearner(problem, oracle, op, testConfig(), WithLogger(quietLogger()))

	report, err := l.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !report.Done || report.Reason != ReasonPartialDefinitions || !report.TerminatedByPartialDefinitions() {
		t.Errorf("Done = %v, Reason = %s, want done by partial definitions", report.Done, report.Reason)
	}
	if report.Final == nil {
		t.Fatal("Final is nil")
	}
	if got := report.Final.String(); got != "A or C" {
		t.Errorf("Final = %q, want %q", got, "A or C")
	}
	if !approx(report.Accuracy, 1) || !approx(report.Completeness, 1) {
		t.Errorf("Accuracy = %v, Completeness = %v, want 1 and 1", report.Accuracy, report.Completeness)
	}

	if len(report.Reduced) != 2 {
		t.Fatalf("len(Reduced) = %d, want 2", len(report.Reduced))
	}
	if report.Reduced[0].Contribution != 6 || report.Reduced[1].Contribution != 4 {
		t.Errorf("contributions = %d, %d, want 6, 4", report.Reduced[0].Contribution, report.Reduced[1].Contribution)
	}

	counters := report.CounterPartialDefinitions
	if len(counters) != 1 || !counters[0].Expression.Equal(exprB) {
		t.Errorf("CounterPartialDefinitions = %v, want [B]", counters)
	}

	if report.Stats.UncoveredPositives != 0 {
		t.Errorf("UncoveredPositives = %d, want 0", report.Stats.UncoveredPositives)
	}
	if l.IsRunning() {
		t.Error("IsRunning after Start returned")
	}

	best, ok := l.CurrentlyBestDescription()
	if !ok || !best.Equal(exprA) {
		t.Errorf("CurrentlyBestDescription = %v, %v, want A", best, ok)
	}
}

func TestLearner_OracleCalledOncePerExpression(t *testing.T) {
	pos, neg := individuals("p", 1, 3), individuals("n", 1, 3)
	edges := map[string][]*concept.Expr{}
	oracle := newTableOracle()
	var roots []*concept.Expr
	for i := 0; i < 30; i++ {
		k := concept.Class(fmt.Sprintf("K%d", i))
		oracle.set(k, set("p1"), set("n1"))
		if i < 5 {
			roots = append(roots, k)
		}
		for j := i + 1; j <= i+3 && j < 30; j++ {
			edges[k.String()] = append(edges[k.String()], concept.Class(fmt.Sprintf("K%d", j)))
		}
	}
	edges["Thing"] = roots

	cfg := testConfig()
	cfg.NumberOfWorkers = 4
	before := testutil.ToFloat64(runsTotal.WithLabelValues(string(ReasonExhausted)))

	l := NewLearner(LearningProblem{Positives: pos, Negatives: neg}, oracle, &graphOperator{edges: edges}, cfg, WithLogger(quietLogger()))
	report, err := l.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if report.Reason != ReasonExhausted || !report.Exhausted {
		t.Errorf("Reason = %s, Exhausted = %v, want exhausted", report.Reason, report.Exhausted)
	}
	if report.Stats.FrontierSize != 0 {
		t.Errorf("FrontierSize = %d, want 0", report.Stats.FrontierSize)
	}

	counts := oracle.callCounts()
	if len(counts) != 30 {
		t.Errorf("oracle saw %d expressions, want 30", len(counts))
	}
	for expr, n := range counts {
		if n != 1 {
			t.Errorf("expression %s evaluated %d times", expr, n)
		}
	}
	if report.Stats.ExpressionsEvaluated != 30 {
		t.Errorf("ExpressionsEvaluated = %d, want 30", report.Stats.ExpressionsEvaluated)
	}
	if got := testutil.ToFloat64(runsTotal.WithLabelValues(string(ReasonExhausted))); got != before+1 {
		t.Errorf("runs_total{exhausted} = %v, want %v", got, before+1)
	}
}

func TestLearner_RecombinationAfterSearch(t *testing.T) {
	pos, neg := individuals("p", 1, 6), set("n1", "n2")
	op := &graphOperator{edges: map[string][]*concept.Expr{
		"Thing": {exprA, exprB, exprD},
	}}
	oracle := newTableOracle()
	oracle.set(exprA, individuals("p", 1, 4), set())
	oracle.set(exprB, set(), set("n1", "n2"))
	oracle.set(exprD, set("p5", "p6"), set("n1", "n2"))

	cfg := testConfig()
	cfg.Combination = CombineAfterSearch
	l := NewLearner(LearningProblem{Positives: pos, Negatives: neg}, oracle, op, cfg, WithLogger(quietLogger()))

	report, err := l.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !report.CounterDone {
		t.Error("CounterDone = false, want true")
	}
	if !report.Done || report.Reason != ReasonPartialDefinitions {
		t.Errorf("Done = %v, Reason = %s: recombination should cover the remaining positives", report.Done, report.Reason)
	}
	if report.CombinedPartials <= 0 {
		t.Errorf("CombinedPartials = %d, want > 0", report.CombinedPartials)
	}
	for _, d := range report.PartialDefinitions {
		if d.CoveredNegative.Len() != 0 {
			t.Errorf("partial %s covers a negative", d.Expression)
		}
	}
	if !approx(report.Accuracy, 1) {
		t.Errorf("Accuracy = %v, want 1", report.Accuracy)
	}
}

func TestLearner_CombineInWorker(t *testing.T) {
	pos, neg := individuals("p", 1, 6), individuals("n", 1, 3)
	op := &graphOperator{edges: map[string][]*concept.Expr{
		"Thing": {exprA, exprB, exprX},
		"X":     {exprD},
	}}
	oracle := newTableOracle()
	oracle.set(exprA, individuals("p", 1, 4), set())
	oracle.set(exprB, set(), set("n1", "n2"))
	oracle.set(exprX, individuals("p", 1, 6), individuals("n", 1, 3))
	oracle.set(exprD, set("p5", "p6"), set("n1", "n2"))

	cfg := testConfig()
	cfg.Combination = CombineInWorker
	l := NewLearner(LearningProblem{Positives: pos, Negatives: neg}, oracle, op, cfg, WithLogger(quietLogger()))

	report, err := l.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !report.Done {
		t.Fatalf("Done = false, reason %s", report.Reason)
	}

	want := concept.And(exprD, concept.Not(exprB))
	var found *SearchNode
	for _, d := range report.PartialDefinitions {
		if d.Expression.Equal(want) {
			found = d
		}
	}
	if found == nil {
		t.Fatalf("expected %s among partial definitions", want)
	}
	if len(found.CompositeList) != 1 || !found.CompositeList[0].Expression.Equal(exprB) {
		t.Errorf("CompositeList = %v, want [B]", found.CompositeList)
	}
	if found.CoveredPositive.Len() != 2 || found.CoveredNegative.Len() != 0 {
		t.Errorf("coverage = %d/%d, want 2/0", found.CoveredPositive.Len(), found.CoveredNegative.Len())
	}

	lineage, err := l.Lineage(found)
	if err != nil {
		t.Fatalf("Lineage: %v", err)
	}
	if len(lineage) != 4 {
		t.Fatalf("len(Lineage) = %d, want 4", len(lineage))
	}
	if !lineage[0].IsRoot() || !lineage[1].Expression.Equal(exprX) || !lineage[2].Expression.Equal(exprD) {
		t.Errorf("lineage = %s, %s, %s, want Thing, X, D", lineage[0].Expression, lineage[1].Expression, lineage[2].Expression)
	}
}

func TestLearner_DoneWithoutSearch(t *testing.T) {
	problem, op, oracle := threeWayProblem()
	cfg := testConfig()
	cfg.NoisePercentage = 1

	l := NewLearner(problem, oracle, op, cfg, WithLogger(quietLogger()))
	report, err := l.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !report.Done {
		t.Error("Done = false, want true")
	}
	if report.NoiseAllowance != 10 {
		t.Errorf("NoiseAllowance = %d, want 10", report.NoiseAllowance)
	}
	if report.Final != nil {
		t.Errorf("Final = %s, want nil", report.Final)
	}
	if n := len(oracle.callCounts()); n != 0 {
		t.Errorf("oracle called for %d expressions, want 0", n)
	}
}

func TestLearner_RootIsPartialWithoutNegatives(t *testing.T) {
	l := NewLearner(LearningProblem{Positives: set("p1", "p2")}, newTableOracle(), &graphOperator{}, testConfig(), WithLogger(quietLogger()))
	report, err := l.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !report.Done {
		t.Error("Done = false, want true")
	}
	if report.Final == nil || !report.Final.Equal(concept.Thing()) {
		t.Errorf("Final = %v, want Thing", report.Final)
	}
}

func TestLearner_StartErrors(t *testing.T) {
	pos := set("p1")
	tests := []struct {
		name    string
		learner *Learner
		want    error
	}{
		{"no oracle", NewLearner(LearningProblem{Positives: pos}, nil, &graphOperator{}, testConfig()), ErrNoReasoner},
		{"no operator", NewLearner(LearningProblem{Positives: pos}, newTableOracle(), nil, testConfig()), ErrNoRefinementOperator},
		{"no positives", NewLearner(LearningProblem{}, newTableOracle(), &graphOperator{}, testConfig()), ErrNoPositiveExamples},
		{"overlap", NewLearner(LearningProblem{Positives: pos, Negatives: set("p1")}, newTableOracle(), &graphOperator{}, testConfig()), ErrOverlappingExamples},
		{"bad config", NewLearner(LearningProblem{Positives: pos}, newTableOracle(), &graphOperator{}, Config{}), ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.learner.Start(context.Background()); !errors.Is(err, tt.want) {
				t.Errorf("Start error = %v, want %v", err, tt.want)
			}
			if tt.learner.IsRunning() {
				t.Error("IsRunning after a failed Start")
			}
		})
	}
}

func TestLearner_Stop(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	cfg.MaxExecutionTimeInSeconds = 0
	cfg.ForceRefinementLengthIncrease = false
	l := NewLearner(
		LearningProblem{Positives: individuals("p", 1, 3), Negatives: individuals("n", 1, 3)},
		mixedOracle{delay: time.Millisecond},
		&endlessOperator{},
		cfg,
		WithLogger(quietLogger()),
	)

	l.Stop() // no run yet

	done := startAsync(l)
	waitFor(t, 5*time.Second, "ten evaluations", func() bool {
		s, ok := l.Snapshot()
		return ok && s.ExpressionsEvaluated > 10
	})
	if !l.IsRunning() {
		t.Error("IsRunning = false during a search")
	}

	if _, err := l.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start error = %v, want ErrAlreadyRunning", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Stop()
		}()
	}
	wg.Wait()

	report := awaitStart(t, done, 5*time.Second)
	if report.Reason != ReasonStopped || !report.Stopped || report.Timeout {
		t.Errorf("Reason = %s, Stopped = %v, Timeout = %v, want stopped only", report.Reason, report.Stopped, report.Timeout)
	}
	if report.Stats.FrontierSize <= 0 {
		t.Error("stopped nodes should stay in the frontier")
	}
	if l.IsRunning() {
		t.Error("IsRunning after Start returned")
	}

	l.Stop()
	if l.Report() != report {
		t.Error("Report changed after a late Stop")
	}
}

// freshPartialOracle alternates between a mixed answer and a partial that
// covers the next positive in turn, so every partial it reports is new.
type freshPartialOracle struct {
	calls atomic.Int64
}

func (o *freshPartialOracle) Coverage(ctx context.Context, _ *concept.Expr, positives, _ concept.IndividualSet) (concept.IndividualSet, concept.IndividualSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	n := o.calls.Add(1)
	if n%2 == 0 {
		return set("p1"), set("n1"), nil
	}
	k := (n/2)%int64(positives.Len()) + 1
	return set(fmt.Sprintf("p%d", k)), set(), nil
}

func TestLearner_StopFromListener(t *testing.T) {
	defer goleak.VerifyNone(t)

	const grace = 5 * time.Second
	cfg := testConfig()
	cfg.NumberOfWorkers = 8
	cfg.MaxExecutionTimeInSeconds = 0
	cfg.ForceRefinementLengthIncrease = false
	cfg.StopGracePeriod = grace

	var (
		l          *Learner
		accepted   atomic.Int64
		stopTook   atomic.Int64
		stopCalled atomic.Bool
	)
	listener := func(kind DefinitionKind, _ *SearchNode) {
		if kind != DefinitionPartial || accepted.Add(1) != 200 {
			return
		}
		// Give the workers time to fill the aggregator inbox.
		time.Sleep(50 * time.Millisecond)
		began := time.Now()
		l.Stop()
		stopTook.Store(int64(time.Since(began)))
		stopCalled.Store(true)
	}
	l = NewLearner(
		LearningProblem{Positives: individuals("p", 1, 1000), Negatives: individuals("n", 1, 3)},
		&freshPartialOracle{},
		&endlessOperator{},
		cfg,
		WithLogger(quietLogger()),
		WithListener(listener),
	)

	began := time.Now()
	report := awaitStart(t, startAsync(l), 4*grace)
	elapsed := time.Since(began)

	if !stopCalled.Load() {
		t.Fatalf("listener never stopped the run, reason %s", report.Reason)
	}
	if took := time.Duration(stopTook.Load()); took > time.Second {
		t.Errorf("Stop inside the listener took %s", took)
	}
	if elapsed >= grace {
		t.Errorf("Start took %s, grace period is %s", elapsed, grace)
	}
	if report.Reason != ReasonStopped {
		t.Errorf("Reason = %s, want %s", report.Reason, ReasonStopped)
	}
	if n := len(report.PartialDefinitions); n < 200 {
		t.Errorf("len(PartialDefinitions) = %d, want at least 200", n)
	}
}

// countingOracle is a mixedOracle that counts the answers it returned.
type countingOracle struct {
	mixedOracle
	answered atomic.Int64
}

func (o *countingOracle) Coverage(ctx context.Context, expr *concept.Expr, positives, negatives concept.IndividualSet) (concept.IndividualSet, concept.IndividualSet, error) {
	cp, cn, err := o.mixedOracle.Coverage(ctx, expr, positives, negatives)
	if err == nil {
		o.answered.Add(1)
	}
	return cp, cn, err
}

func TestLearner_StopKeepsEveryEvaluatedNode(t *testing.T) {
	defer goleak.VerifyNone(t)

	for i := 0; i < 5; i++ {
		t.Run(fmt.Sprintf("run=%d", i), func(t *testing.T) {
			cfg := testConfig()
			cfg.NumberOfWorkers = 4
			cfg.MaxExecutionTimeInSeconds = 0
			cfg.ForceRefinementLengthIncrease = false

			oracle := &countingOracle{mixedOracle: mixedOracle{delay: 200 * time.Microsecond}}
			l := NewLearner(
				LearningProblem{Positives: individuals("p", 1, 3), Negatives: individuals("n", 1, 3)},
				oracle,
				&endlessOperator{},
				cfg,
				WithLogger(quietLogger()),
			)

			done := startAsync(l)
			threshold := int64(20 + 15*i)
			waitFor(t, 5*time.Second, "evaluations", func() bool {
				s, ok := l.Snapshot()
				return ok && s.ExpressionsEvaluated > threshold
			})
			l.Stop()
			report := awaitStart(t, done, 5*time.Second)

			// Every answered expression is a frontier node, plus the root.
			answered := oracle.answered.Load()
			if got := l.run.Load().frontier.Len(); int64(got) != answered+1 {
				t.Errorf("frontier holds %d nodes after %d answers, want %d", got, answered, answered+1)
			}
			if int64(report.Stats.FrontierSize) != answered+1 {
				t.Errorf("FrontierSize = %d, want %d", report.Stats.FrontierSize, answered+1)
			}
			if report.Stats.ExpressionsEvaluated != answered {
				t.Errorf("ExpressionsEvaluated = %d, oracle answered %d", report.Stats.ExpressionsEvaluated, answered)
			}
		})
	}
}

func TestLearner_ContextCancel(t *testing.T) {
	cfg := testConfig()
	cfg.MaxExecutionTimeInSeconds = 0
	cfg.ForceRefinementLengthIncrease = false
	l := NewLearner(
		LearningProblem{Positives: individuals("p", 1, 3), Negatives: individuals("n", 1, 3)},
		mixedOracle{delay: time.Millisecond},
		&endlessOperator{},
		cfg,
		WithLogger(quietLogger()),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	report, err := l.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if report.Reason != ReasonStopped {
		t.Errorf("Reason = %s, want %s", report.Reason, ReasonStopped)
	}
}

func TestLearner_Timeout(t *testing.T) {
	cfg := testConfig()
	cfg.MaxExecutionTimeInSeconds = 1
	cfg.ForceRefinementLengthIncrease = false

	clock := &stepClock{t: time.Unix(0, 0), step: 10 * time.Millisecond}
	l := NewLearner(
		LearningProblem{Positives: individuals("p", 1, 3), Negatives: individuals("n", 1, 3)},
		mixedOracle{},
		&endlessOperator{},
		cfg,
		WithLogger(quietLogger()),
		WithClock(clock.Now),
	)

	report, err := l.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if report.Reason != ReasonTimeout || !report.IsTimeout() || !l.IsTimeout() {
		t.Errorf("Reason = %s, IsTimeout = %v, want timeout", report.Reason, report.IsTimeout())
	}
	if report.Duration < time.Second {
		t.Errorf("Duration = %s, want at least 1s", report.Duration)
	}
}

// stepClock advances by step on every reading.
type stepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

func TestLearner_Listener(t *testing.T) {
	problem, op, oracle := threeWayProblem()

	var mu sync.Mutex
	seen := map[DefinitionKind][]string{}
	listener := func(kind DefinitionKind, n *SearchNode) {
		mu.Lock()
		defer mu.Unlock()
		seen[kind] = append(seen[kind], n.Expression.String())
	}

	l := NewLearner(problem, oracle, op, testConfig(), WithLogger(quietLogger()), WithListener(listener))
	if _, err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	partials := slices.Clone(seen[DefinitionPartial])
	slices.Sort(partials)
	if !slices.Equal(partials, []string{"A", "C"}) {
		t.Errorf("partials = %v, want [A C]", partials)
	}
	if got := seen[DefinitionCounterPartial]; !slices.Equal(got, []string{"B"}) {
		t.Errorf("counter partials = %v, want [B]", got)
	}
}

func TestLearner_FamilyKnowledgeBase(t *testing.T) {
	base, ex, err := kb.Load("../kb/testdata/family.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	reasoner, err := kb.NewReasoner(base, kb.DefaultCacheSize)
	if err != nil {
		t.Fatalf("NewReasoner: %v", err)
	}
	operator := kb.NewOperator(base, kb.DefaultOperatorConfig())

	cfg := testConfig()
	cfg.NumberOfWorkers = 4
	cfg.MaxExecutionTimeInSeconds = 30
	cfg.MaxHorizontalExpansion = 8

	l := NewLearner(LearningProblem{Name: "fathers", Positives: ex.Positives, Negatives: ex.Negatives}, reasoner, operator, cfg, WithLogger(quietLogger()))
	report, err := l.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !report.Done || report.Final == nil {
		t.Fatalf("Done = %v, Final = %v, reason %s", report.Done, report.Final, report.Reason)
	}
	if !approx(report.Accuracy, 1) {
		t.Errorf("Accuracy = %v, want 1", report.Accuracy)
	}
	for _, d := range report.Reduced {
		if d.Node.CoveredNegative.Len() != 0 {
			t.Errorf("reduced definition %s covers a negative", d.Node.Expression)
		}
	}

	covered, err := reasoner.Instances(report.Final)
	if err != nil {
		t.Fatalf("Instances: %v", err)
	}
	if !ex.Positives.IsSubsetOf(covered) {
		t.Error("final description misses a positive")
	}
	if ex.Negatives.Intersects(covered) {
		t.Error("final description covers a negative")
	}
}
