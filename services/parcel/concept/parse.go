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

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrSyntax is returned when an expression cannot be parsed.
var ErrSyntax = errors.New("concept: syntax error")

// Parse reads an expression in the canonical syntax produced by Expr.String.
//
// Grammar (lowest precedence first):
//
//	expr    := and ("or" and)*
//	and     := unary ("and" unary)*
//	unary   := "not" unary | primary
//	primary := "(" expr ")" | IDENT ("some" | "only") unary | IDENT
//
// Inputs:
//   - s: Expression text.
//
// Outputs:
//   - *Expr: The normalized expression.
//   - error: Wraps ErrSyntax on malformed input.
func Parse(s string) (*Expr, error) {
	p := &parser{tokens: tokenize(s)}
	if len(p.tokens) == 0 {
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, fmt.Errorf("%w: unexpected %q at token %d", ErrSyntax, p.tokens[p.pos], p.pos)
	}
	return e, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level fixtures.
func MustParse(s string) *Expr {
	e, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return e
}

type parser struct {
	tokens []string
	pos    int
}

func (p *parser) peek() string {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return ""
}

func (p *parser) next() string {
	t := p.peek()
	if t != "" {
		p.pos++
	}
	return t
}

func (p *parser) parseOr() (*Expr, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	ops := []*Expr{first}
	for p.peek() == "or" {
		p.next()
		op, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if len(ops) == 1 {
		return first, nil
	}
	return Or(ops...), nil
}

func (p *parser) parseAnd() (*Expr, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	ops := []*Expr{first}
	for p.peek() == "and" {
		p.next()
		op, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if len(ops) == 1 {
		return first, nil
	}
	return And(ops...), nil
}

func (p *parser) parseUnary() (*Expr, error) {
	if p.peek() == "not" {
		p.next()
		op, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not(op), nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (*Expr, error) {
	tok := p.next()
	switch tok {
	case "":
		return nil, fmt.Errorf("%w: unexpected end of input", ErrSyntax)
	case "(":
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next() != ")" {
			return nil, fmt.Errorf("%w: missing closing parenthesis", ErrSyntax)
		}
		return e, nil
	case ")", "and", "or", "not", "some", "only":
		return nil, fmt.Errorf("%w: unexpected %q", ErrSyntax, tok)
	}

	switch p.peek() {
	case "some":
		p.next()
		filler, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Exists(tok, filler), nil
	case "only":
		p.next()
		filler, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return ForAll(tok, filler), nil
	}
	return Class(tok), nil
}

func tokenize(s string) []string {
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '(' || r == ')':
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsSpace(r):
			flush()
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return tokens
}
