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
	"sort"

	"github.com/AleutianAI/parcel/services/parcel/concept"
)

// Combinable returns the counter-partial definitions that can be subtracted
// from n to leave a node covering no negatives.
//
// A counter-partial qualifies when it covers at least one of n's negatives
// and none of n's positives. All qualifying counter-partials are returned, in
// canonical expression order. The result is nil when nothing qualifies or when
// the qualifying set still leaves some of n's negatives covered.
//
// Inputs:
//   - n: A mixed-coverage node.
//   - counters: Accepted counter-partial definitions. Not modified.
//
// Outputs:
//   - []*SearchNode: The subset to combine with, or nil.
func Combinable(n *SearchNode, counters []*SearchNode) []*SearchNode {
	if n.CoveredNegative.Len() == 0 || len(counters) == 0 {
		return nil
	}

	var with []*SearchNode
	excluded := concept.NewIndividualSet()
	for _, c := range counters {
		if !c.CoveredNegative.Intersects(n.CoveredNegative) {
			continue
		}
		if c.CoveredPositive.Intersects(n.CoveredPositive) {
			continue
		}
		with = append(with, c)
		excluded.AddAll(c.CoveredNegative.Intersect(n.CoveredNegative))
	}
	if len(with) == 0 || excluded.Len() < n.CoveredNegative.Len() {
		return nil
	}

	sort.Slice(with, func(i, j int) bool {
		return concept.Compare(with[i].Expression, with[j].Expression) < 0
	})
	return with
}

// CombinedExpression builds Intersection(n, Not(c1), ..., Not(ck)).
func CombinedExpression(n *SearchNode, with []*SearchNode) *concept.Expr {
	ops := make([]*concept.Expr, 0, len(with)+1)
	ops = append(ops, n.Expression)
	for _, c := range with {
		ops = append(ops, concept.Not(c.Expression))
	}
	return concept.And(ops...)
}

// combine builds the partial definition obtained by subtracting with from n.
// Coverage comes from set arithmetic rather than a reasoner call.
func (f *nodeFactory) combine(n *SearchNode, with []*SearchNode) *SearchNode {
	cn := n.CoveredNegative.Clone()
	for _, c := range with {
		cn.RemoveAll(c.CoveredNegative)
	}
	node := f.build(CombinedExpression(n, with), n.ID, n.CoveredPositive.Clone(), cn, n.HorizontalExpansion)
	node.CompositeList = append([]*SearchNode(nil), with...)
	return node
}
