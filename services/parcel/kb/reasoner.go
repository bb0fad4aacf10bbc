// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kb

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/AleutianAI/parcel/services/parcel/concept"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of instance sets the reasoner memoizes.
const DefaultCacheSize = 4096

// Reasoner answers instance queries under the closed-world assumption.
//
// Instance sets are memoized per canonical expression in an LRU cache.
// Cached sets are shared and never mutated; Coverage returns fresh sets.
//
// Thread Safety: Safe for concurrent use.
type Reasoner struct {
	kb     *KnowledgeBase
	cache  *lru.Cache[string, concept.IndividualSet]
	calls  atomic.Int64
	logger *slog.Logger
}

// ReasonerOption configures a Reasoner.
type ReasonerOption func(*Reasoner)

// WithReasonerLogger sets the logger.
func WithReasonerLogger(logger *slog.Logger) ReasonerOption {
	return func(r *Reasoner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReasoner creates a reasoner over kb.
//
// Inputs:
//   - kb: The knowledge base. Must not be nil.
//   - cacheSize: Number of memoized instance sets; <= 0 uses DefaultCacheSize.
//   - opts: Optional configuration.
//
// Outputs:
//   - *Reasoner: The reasoner.
//   - error: Non-nil if kb is nil.
func NewReasoner(kb *KnowledgeBase, cacheSize int, opts ...ReasonerOption) (*Reasoner, error) {
	if kb == nil {
		return nil, fmt.Errorf("%w: nil knowledge base", ErrInvalidKnowledgeBase)
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, concept.IndividualSet](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create instance cache: %w", err)
	}
	r := &Reasoner{
		kb:     kb,
		cache:  cache,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Coverage returns the positives and negatives that are instances of expr.
//
// Each call counts as one oracle query regardless of cache hits.
//
// Inputs:
//   - ctx: Cancellation is checked before evaluation.
//   - expr: The expression to evaluate.
//   - positives, negatives: The example sets.
//
// Outputs:
//   - coveredPositive, coveredNegative: Fresh sets owned by the caller.
//   - error: ctx.Err(), or wraps ErrUnknownVocabulary.
func (r *Reasoner) Coverage(ctx context.Context, expr *concept.Expr, positives, negatives concept.IndividualSet) (concept.IndividualSet, concept.IndividualSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	r.calls.Add(1)
	inst, err := r.Instances(expr)
	if err != nil {
		r.logger.Debug("instance query failed",
			slog.String("expression", expr.String()),
			slog.String("error", err.Error()),
		)
		return nil, nil, err
	}
	return inst.Intersect(positives), inst.Intersect(negatives), nil
}

// Calls returns the number of Coverage queries answered.
func (r *Reasoner) Calls() int64 { return r.calls.Load() }

// Instances returns the individuals satisfying expr. The returned set is
// shared with the cache and must not be modified.
func (r *Reasoner) Instances(expr *concept.Expr) (concept.IndividualSet, error) {
	key := expr.String()
	if set, ok := r.cache.Get(key); ok {
		return set, nil
	}
	set, err := r.compute(expr)
	if err != nil {
		return nil, err
	}
	r.cache.Add(key, set)
	return set, nil
}

func (r *Reasoner) compute(expr *concept.Expr) (concept.IndividualSet, error) {
	all := r.kb.individuals
	switch expr.Kind() {
	case concept.KindThing:
		return all, nil

	case concept.KindNothing:
		return concept.NewIndividualSet(), nil

	case concept.KindClass:
		ext, ok := r.kb.extensions[expr.Name()]
		if !ok {
			return nil, fmt.Errorf("%w: class %q", ErrUnknownVocabulary, expr.Name())
		}
		return ext, nil

	case concept.KindNot:
		inner, err := r.Instances(expr.Operands()[0])
		if err != nil {
			return nil, err
		}
		return all.Difference(inner), nil

	case concept.KindAnd:
		var acc concept.IndividualSet
		for _, op := range expr.Operands() {
			inst, err := r.Instances(op)
			if err != nil {
				return nil, err
			}
			if acc == nil {
				acc = inst.Clone()
			} else {
				acc = acc.Intersect(inst)
			}
		}
		return acc, nil

	case concept.KindOr:
		acc := concept.NewIndividualSet()
		for _, op := range expr.Operands() {
			inst, err := r.Instances(op)
			if err != nil {
				return nil, err
			}
			acc.AddAll(inst)
		}
		return acc, nil

	case concept.KindExists, concept.KindForAll:
		succ, ok := r.kb.roles[expr.Name()]
		if !ok {
			return nil, fmt.Errorf("%w: role %q", ErrUnknownVocabulary, expr.Name())
		}
		filler, err := r.Instances(expr.Operands()[0])
		if err != nil {
			return nil, err
		}
		out := concept.NewIndividualSet()
		if expr.Kind() == concept.KindExists {
			for subject, objects := range succ {
				for _, o := range objects {
					if filler.Contains(o) {
						out.Add(subject)
						break
					}
				}
			}
			return out, nil
		}
		for x := range all {
			ok := true
			for _, o := range succ[x] {
				if !filler.Contains(o) {
					ok = false
					break
				}
			}
			if ok {
				out.Add(x)
			}
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: expression kind %s", ErrUnknownVocabulary, expr.Kind())
	}
}
