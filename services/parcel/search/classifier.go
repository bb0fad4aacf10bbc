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

// Classification is the outcome of classifying an evaluated node.
type Classification int

const (
	// ClassDiscard drops the node; its expression stays in the dedup set.
	ClassDiscard Classification = iota

	// ClassPartial marks a node covering positives only.
	ClassPartial

	// ClassCounterPartial marks a node covering negatives only.
	ClassCounterPartial

	// ClassFrontier marks a mixed node that goes back into the frontier.
	ClassFrontier
)

// String returns the classification name.
func (c Classification) String() string {
	switch c {
	case ClassDiscard:
		return "discard"
	case ClassPartial:
		return "partial"
	case ClassCounterPartial:
		return "counter_partial"
	case ClassFrontier:
		return "frontier"
	default:
		return "unknown"
	}
}

// PlateauPolicy decides when mixed nodes stop being re-queued.
type PlateauPolicy struct {
	// ForceLengthIncrease enables the cap.
	ForceLengthIncrease bool

	// MaxHorizontalExpansion is the largest expansion a mixed node may carry
	// back into the frontier while the policy is active.
	MaxHorizontalExpansion uint32
}

// Classify labels a node by its coverage. It is a pure function.
//
// Inputs:
//   - n: An evaluated node.
//   - policy: The plateau policy applied to mixed nodes.
//
// Outputs:
//   - Classification: Partial, CounterPartial, Frontier or Discard.
func Classify(n *SearchNode, policy PlateauPolicy) Classification {
	cp, cn := n.CoveredPositive.Len(), n.CoveredNegative.Len()
	switch {
	case cn == 0 && cp > 0:
		return ClassPartial
	case cp == 0 && cn > 0:
		return ClassCounterPartial
	case cp == 0 && cn == 0:
		return ClassDiscard
	}
	if policy.ForceLengthIncrease && n.HorizontalExpansion > policy.MaxHorizontalExpansion {
		return ClassDiscard
	}
	return ClassFrontier
}
