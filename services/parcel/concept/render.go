// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package concept

import "strings"

// Group renders a definition for display with negated conjuncts moved after
// the positive ones, so the excluded parts of a combined definition read
// together. Disjunctions are grouped operand by operand. The result is still
// parseable and parses to an expression equal to e.
func Group(e *Expr) string {
	switch e.kind {
	case KindOr:
		parts := make([]string, len(e.operands))
		for i, op := range e.operands {
			parts[i] = groupOperand(op)
		}
		return strings.Join(parts, " or ")
	case KindAnd:
		return groupConjunction(e)
	default:
		return e.repr
	}
}

func groupOperand(e *Expr) string {
	switch e.kind {
	case KindAnd:
		return "(" + groupConjunction(e) + ")"
	default:
		return wrap(e)
	}
}

func groupConjunction(e *Expr) string {
	var positive, negated []string
	for _, op := range e.operands {
		if op.kind == KindNot {
			negated = append(negated, wrap(op))
		} else {
			positive = append(positive, wrap(op))
		}
	}
	return strings.Join(append(positive, negated...), " and ")
}
