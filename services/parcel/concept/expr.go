// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package concept provides the class-expression vocabulary used by the learner.
//
// Expressions are immutable trees built through constructor functions. Every
// constructor normalizes its result (n-ary operands are flattened, sorted and
// deduplicated) so that two structurally equal expressions always render to the
// same canonical string. The canonical string doubles as the identity key used
// for deduplication and caching.
//
// Thread Safety: Expressions are immutable and safe for concurrent use.
package concept

import (
	"sort"
	"strings"
)

// Kind identifies the constructor of an expression.
type Kind int

const (
	KindThing Kind = iota
	KindNothing
	KindClass
	KindNot
	KindAnd
	KindOr
	KindExists
	KindForAll
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindThing:
		return "thing"
	case KindNothing:
		return "nothing"
	case KindClass:
		return "class"
	case KindNot:
		return "not"
	case KindAnd:
		return "and"
	case KindOr:
		return "or"
	case KindExists:
		return "exists"
	case KindForAll:
		return "forall"
	default:
		return "unknown"
	}
}

const (
	thingName   = "Thing"
	nothingName = "Nothing"
)

// Expr is an immutable class expression.
//
// The zero value is not valid; use the constructor functions.
type Expr struct {
	kind     Kind
	name     string // class name, or role name for quantifiers
	operands []*Expr
	length   int
	repr     string
}

var (
	thing   = &Expr{kind: KindThing, length: 1, repr: thingName}
	nothing = &Expr{kind: KindNothing, length: 1, repr: nothingName}
)

// Thing returns the most general expression.
func Thing() *Expr { return thing }

// Nothing returns the empty expression.
func Nothing() *Expr { return nothing }

// Class returns a named class. The names "Thing" and "Nothing" map to the
// corresponding built-in expressions.
func Class(name string) *Expr {
	switch name {
	case thingName:
		return thing
	case nothingName:
		return nothing
	}
	return &Expr{kind: KindClass, name: name, length: 1, repr: name}
}

// Not returns the complement of e. Double negation is removed.
func Not(e *Expr) *Expr {
	if e.kind == KindNot {
		return e.operands[0]
	}
	return &Expr{
		kind:     KindNot,
		operands: []*Expr{e},
		length:   1 + e.length,
		repr:     "not " + wrap(e),
	}
}

// And returns the intersection of the operands.
//
// Nested intersections are flattened, Thing operands dropped and duplicates
// removed. A single remaining operand is returned as is; no operands yield Thing.
func And(operands ...*Expr) *Expr {
	flat := flatten(KindAnd, operands, KindThing)
	switch len(flat) {
	case 0:
		return thing
	case 1:
		return flat[0]
	}
	return naryExpr(KindAnd, flat, " and ")
}

// Or returns the union of the operands.
//
// Nested unions are flattened, Nothing operands dropped and duplicates removed.
// A single remaining operand is returned as is; no operands yield Nothing.
func Or(operands ...*Expr) *Expr {
	flat := flatten(KindOr, operands, KindNothing)
	switch len(flat) {
	case 0:
		return nothing
	case 1:
		return flat[0]
	}
	return naryExpr(KindOr, flat, " or ")
}

// Exists returns the existential restriction "role some filler".
func Exists(role string, filler *Expr) *Expr {
	return quantified(KindExists, role, "some", filler)
}

// ForAll returns the universal restriction "role only filler".
func ForAll(role string, filler *Expr) *Expr {
	return quantified(KindForAll, role, "only", filler)
}

func quantified(kind Kind, role, keyword string, filler *Expr) *Expr {
	return &Expr{
		kind:     kind,
		name:     role,
		operands: []*Expr{filler},
		length:   2 + filler.length,
		repr:     role + " " + keyword + " " + wrap(filler),
	}
}

func naryExpr(kind Kind, ops []*Expr, sep string) *Expr {
	parts := make([]string, len(ops))
	length := len(ops) - 1
	for i, op := range ops {
		parts[i] = wrap(op)
		length += op.length
	}
	return &Expr{
		kind:     kind,
		operands: ops,
		length:   length,
		repr:     strings.Join(parts, sep),
	}
}

func flatten(kind Kind, operands []*Expr, neutral Kind) []*Expr {
	seen := make(map[string]struct{}, len(operands))
	var out []*Expr
	var visit func(e *Expr)
	visit = func(e *Expr) {
		if e.kind == kind {
			for _, op := range e.operands {
				visit(op)
			}
			return
		}
		if e.kind == neutral {
			return
		}
		if _, ok := seen[e.repr]; ok {
			return
		}
		seen[e.repr] = struct{}{}
		out = append(out, e)
	}
	for _, op := range operands {
		visit(op)
	}
	sort.Slice(out, func(i, j int) bool { return Compare(out[i], out[j]) < 0 })
	return out
}

// wrap renders an operand, parenthesizing composite expressions.
func wrap(e *Expr) string {
	switch e.kind {
	case KindAnd, KindOr, KindExists, KindForAll:
		return "(" + e.repr + ")"
	default:
		return e.repr
	}
}

// Kind returns the constructor kind.
func (e *Expr) Kind() Kind { return e.kind }

// Name returns the class name for named classes or the role name for
// quantifiers. It is empty for other kinds.
func (e *Expr) Name() string { return e.name }

// Operands returns the direct sub-expressions. The slice must not be modified.
func (e *Expr) Operands() []*Expr { return e.operands }

// Length returns the syntactic length used as the complexity measure.
func (e *Expr) Length() int { return e.length }

// String returns the canonical rendering.
func (e *Expr) String() string { return e.repr }

// Equal reports whether two expressions are structurally equal.
func (e *Expr) Equal(other *Expr) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.repr == other.repr
}

// NegationCount returns the number of Not constructors in the expression.
func (e *Expr) NegationCount() int {
	n := 0
	if e.kind == KindNot {
		n++
	}
	for _, op := range e.operands {
		n += op.NegationCount()
	}
	return n
}

// MarshalText renders the expression canonically.
func (e *Expr) MarshalText() ([]byte, error) {
	return []byte(e.repr), nil
}

// UnmarshalText parses a canonical rendering.
func (e *Expr) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*e = *parsed
	return nil
}

// Compare is the canonical total order over expressions: shorter expressions
// first, then by canonical rendering.
func Compare(a, b *Expr) int {
	if a.length != b.length {
		if a.length < b.length {
			return -1
		}
		return 1
	}
	return strings.Compare(a.repr, b.repr)
}
