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

// ReducedDefinition is a partial definition selected by Reduce.
type ReducedDefinition struct {
	// Node is the selected partial definition.
	Node *SearchNode `json:"node"`

	// Contribution is the number of positives it newly covered when selected.
	Contribution int `json:"contribution"`

	// Fraction is Contribution divided by the number of positives.
	Fraction float64 `json:"fraction"`
}

// Reduce selects a small set of partial definitions covering the positives
// by greedy maximum coverage.
//
// Each step picks the definition covering the most still-uncovered
// positives, preferring shorter expressions and then canonical order on
// ties. Selection stops once at most noiseAllowance positives remain
// uncovered, or when no remaining definition covers anything new, so every
// step strictly shrinks the uncovered set.
//
// Inputs:
//   - defs: Candidate partial definitions. Not modified.
//   - positives: All positive examples.
//   - noiseAllowance: Positives allowed to stay uncovered.
//
// Outputs:
//   - []ReducedDefinition: Selected definitions, largest contribution first.
func Reduce(defs []*SearchNode, positives concept.IndividualSet, noiseAllowance int) []ReducedDefinition {
	uncovered := positives.Clone()
	remaining := append([]*SearchNode(nil), defs...)
	var selected []ReducedDefinition

	for uncovered.Len() > noiseAllowance && len(remaining) > 0 {
		best, bestGain := -1, 0
		for i, d := range remaining {
			gain := d.CoveredPositive.IntersectionSize(uncovered)
			if gain == 0 {
				continue
			}
			if best < 0 || gain > bestGain || (gain == bestGain && preferDefinition(d, remaining[best])) {
				best, bestGain = i, gain
			}
		}
		if best < 0 {
			break
		}

		d := remaining[best]
		uncovered.RemoveAll(d.CoveredPositive)
		selected = append(selected, ReducedDefinition{
			Node:         d,
			Contribution: bestGain,
			Fraction:     fraction(bestGain, positives.Len()),
		})
		remaining = append(remaining[:best], remaining[best+1:]...)
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Contribution > selected[j].Contribution
	})
	return selected
}

// preferDefinition breaks coverage ties: shorter first, then canonical order.
func preferDefinition(a, b *SearchNode) bool {
	la, lb := a.Expression.Length(), b.Expression.Length()
	if la != lb {
		return la < lb
	}
	return concept.Compare(a.Expression, b.Expression) < 0
}

// Union returns the disjunction of the selected definitions, or nil if none
// were selected.
func Union(selected []ReducedDefinition) *concept.Expr {
	if len(selected) == 0 {
		return nil
	}
	ops := make([]*concept.Expr, len(selected))
	for i, s := range selected {
		ops[i] = s.Node.Expression
	}
	return concept.Or(ops...)
}

func fraction(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}
