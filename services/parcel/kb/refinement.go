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
	"sort"

	"github.com/AleutianAI/parcel/services/parcel/concept"
)

// OperatorConfig controls which constructors the refinement operator emits.
type OperatorConfig struct {
	// UseNegation allows "not A" refinements of Thing.
	UseNegation bool `json:"use_negation" yaml:"use_negation"`

	// UseExists allows "r some Thing" refinements of Thing.
	UseExists bool `json:"use_exists" yaml:"use_exists"`

	// UseForAll allows "r only Thing" refinements of Thing.
	UseForAll bool `json:"use_forall" yaml:"use_forall"`

	// MaxLength is an absolute cap on refinement length. 0 means no cap.
	MaxLength int `json:"max_length" yaml:"max_length"`
}

// DefaultOperatorConfig returns the operator defaults.
func DefaultOperatorConfig() OperatorConfig {
	return OperatorConfig{
		UseNegation: true,
		UseExists:   true,
		UseForAll:   false,
		MaxLength:   12,
	}
}

// Operator is a downward refinement operator over a knowledge base vocabulary.
//
// Thread Safety: Safe for concurrent use; it holds no mutable state.
type Operator struct {
	kb  *KnowledgeBase
	cfg OperatorConfig
}

// NewOperator creates a refinement operator.
func NewOperator(kb *KnowledgeBase, cfg OperatorConfig) *Operator {
	return &Operator{kb: kb, cfg: cfg}
}

// Refine returns the downward refinements of expr whose length does not
// exceed maxLength (and the configured absolute cap).
//
// Inputs:
//   - ctx: Checked once before refinement.
//   - expr: The expression to specialize.
//   - maxLength: Length budget for this call.
//
// Outputs:
//   - []*concept.Expr: Distinct refinements in canonical order.
//   - error: ctx.Err() if cancelled.
func (o *Operator) Refine(ctx context.Context, expr *concept.Expr, maxLength int) ([]*concept.Expr, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.cfg.MaxLength > 0 && maxLength > o.cfg.MaxLength {
		maxLength = o.cfg.MaxLength
	}

	seen := make(map[string]*concept.Expr)
	for _, r := range o.rho(expr, maxLength) {
		if r.Equal(expr) || r.Kind() == concept.KindNothing {
			continue
		}
		seen[r.String()] = r
	}

	out := make([]*concept.Expr, 0, len(seen))
	for _, r := range seen {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return concept.Compare(out[i], out[j]) < 0 })
	return out, nil
}

func (o *Operator) rho(e *concept.Expr, maxLength int) []*concept.Expr {
	if maxLength < 1 {
		return nil
	}
	var out []*concept.Expr
	add := func(r *concept.Expr) {
		if r.Length() <= maxLength {
			out = append(out, r)
		}
	}

	switch e.Kind() {
	case concept.KindThing:
		return o.topRefinements(maxLength)

	case concept.KindNothing:
		return nil

	case concept.KindClass:
		for _, sub := range o.kb.Subclasses(e.Name()) {
			add(concept.Class(sub))
		}

	case concept.KindNot:
		inner := e.Operands()[0]
		if inner.Kind() == concept.KindClass {
			for _, sup := range o.kb.Superclasses(inner.Name()) {
				add(concept.Not(concept.Class(sup)))
			}
		}

	case concept.KindExists, concept.KindForAll:
		filler := e.Operands()[0]
		for _, f := range o.rho(filler, maxLength-2) {
			if e.Kind() == concept.KindExists {
				add(concept.Exists(e.Name(), f))
			} else {
				add(concept.ForAll(e.Name(), f))
			}
		}

	case concept.KindAnd, concept.KindOr:
		ops := e.Operands()
		for i, op := range ops {
			budget := maxLength - (e.Length() - op.Length())
			for _, r := range o.rho(op, budget) {
				replaced := make([]*concept.Expr, len(ops))
				copy(replaced, ops)
				replaced[i] = r
				if e.Kind() == concept.KindAnd {
					add(concept.And(replaced...))
				} else {
					add(concept.Or(replaced...))
				}
			}
		}
	}

	// Any expression can be narrowed by conjoining a top-level refinement.
	if e.Kind() != concept.KindOr {
		for _, x := range o.topRefinements(maxLength - e.Length() - 1) {
			add(concept.And(e, x))
		}
	}
	return out
}

// topRefinements returns the refinements of Thing within the length budget.
func (o *Operator) topRefinements(maxLength int) []*concept.Expr {
	var out []*concept.Expr
	if maxLength >= 1 {
		for _, c := range o.kb.TopClasses() {
			out = append(out, concept.Class(c))
		}
	}
	if o.cfg.UseNegation && maxLength >= 2 {
		for _, c := range o.kb.LeafClasses() {
			out = append(out, concept.Not(concept.Class(c)))
		}
	}
	if maxLength >= 3 {
		for _, r := range o.kb.Roles() {
			if o.cfg.UseExists {
				out = append(out, concept.Exists(r, concept.Thing()))
			}
			if o.cfg.UseForAll {
				out = append(out, concept.ForAll(r, concept.Thing()))
			}
		}
	}
	return out
}
