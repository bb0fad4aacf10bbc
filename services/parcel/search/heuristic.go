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

// Score computes a node's frontier priority.
//
// The base value is a weighted accuracy where each excluded negative counts
// NegativeWeight times a covered positive:
//
//	(|cp| + w*(|N| - |cn|)) / (|P| + w*|N|)
//
// The root receives StartNodeBonus. Every unit of horizontal expansion costs
// ExpansionPenaltyFactor and every negation in the expression costs
// NegationPenalty.
//
// Inputs:
//   - n: The node. Only coverage, expression and horizontal expansion are read.
//   - positives, negatives: Sizes of the example sets.
//
// Outputs:
//   - float64: The score. Higher is better.
func (h HeuristicConfig) Score(n *SearchNode, positives, negatives int) float64 {
	w := h.NegativeWeight
	denom := float64(positives) + w*float64(negatives)

	var score float64
	if denom > 0 {
		excluded := float64(negatives - n.CoveredNegative.Len())
		score = (float64(n.CoveredPositive.Len()) + w*excluded) / denom
	}

	if n.IsRoot() {
		score += h.StartNodeBonus
	}
	score -= h.ExpansionPenaltyFactor * float64(n.HorizontalExpansion)
	score -= h.NegationPenalty * float64(n.Expression.NegationCount())
	return score
}
