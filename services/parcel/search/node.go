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
	"encoding/json"
	"sync"
	"time"

	"github.com/AleutianAI/parcel/services/parcel/concept"
)

// NoParent is the parent index of the root node.
const NoParent = -1

// SearchNode is an evaluated expression in the search space.
//
// Nodes are immutable once built: the score is computed at construction and
// never changes, and the coverage sets are never modified. A re-expanded node
// is a new node.
//
// Thread Safety: Safe for concurrent reads.
type SearchNode struct {
	// ID is the node's index in the run's NodeArena.
	ID int

	// Expression is the evaluated class expression.
	Expression *concept.Expr

	// Parent is the arena index of the node this one was refined from.
	Parent int

	// CoveredPositive are the positive examples that are instances of Expression.
	CoveredPositive concept.IndividualSet

	// CoveredNegative are the negative examples that are instances of Expression.
	CoveredNegative concept.IndividualSet

	// HorizontalExpansion is the refinement length budget reached by this node.
	HorizontalExpansion uint32

	// Score orders the frontier; higher is better.
	Score float64

	// CreatedAt is when the node was built.
	CreatedAt time.Time

	// CompositeList holds the counter-partial definitions this node was
	// combined with. Empty unless the node came out of combination.
	CompositeList []*SearchNode
}

// IsRoot reports whether the node is the search root.
func (n *SearchNode) IsRoot() bool { return n.Parent == NoParent }

// Completeness returns the fraction of positives covered.
func (n *SearchNode) Completeness(positives int) float64 {
	if positives == 0 {
		return 0
	}
	return float64(n.CoveredPositive.Len()) / float64(positives)
}

// Accuracy returns the fraction of examples classified correctly when the
// node's expression is read as the definition.
func (n *SearchNode) Accuracy(positives, negatives int) float64 {
	total := positives + negatives
	if total == 0 {
		return 0
	}
	correct := n.CoveredPositive.Len() + (negatives - n.CoveredNegative.Len())
	return float64(correct) / float64(total)
}

// MarshalJSON implements json.Marshaler.
func (n *SearchNode) MarshalJSON() ([]byte, error) {
	composite := make([]string, len(n.CompositeList))
	for i, c := range n.CompositeList {
		composite[i] = c.Expression.String()
	}
	return json.Marshal(struct {
		ID                  int                   `json:"id"`
		Expression          string                `json:"expression"`
		Parent              int                   `json:"parent"`
		CoveredPositive     concept.IndividualSet `json:"covered_positive"`
		CoveredNegative     concept.IndividualSet `json:"covered_negative"`
		HorizontalExpansion uint32                `json:"horizontal_expansion"`
		Score               float64               `json:"score"`
		CreatedAt           time.Time             `json:"created_at"`
		CompositeList       []string              `json:"composite_list,omitempty"`
	}{
		ID:                  n.ID,
		Expression:          n.Expression.String(),
		Parent:              n.Parent,
		CoveredPositive:     n.CoveredPositive,
		CoveredNegative:     n.CoveredNegative,
		HorizontalExpansion: n.HorizontalExpansion,
		Score:               n.Score,
		CreatedAt:           n.CreatedAt,
		CompositeList:       composite,
	})
}

// NodeArena is the append-only store of every node built during a run.
// Parents are referenced by index, so the provenance tree holds no pointers
// back up the tree.
//
// Thread Safety: Safe for concurrent use.
type NodeArena struct {
	mu    sync.RWMutex
	nodes []*SearchNode
}

// NewNodeArena creates an empty arena.
func NewNodeArena() *NodeArena {
	return &NodeArena{}
}

// Add stores n, assigns its ID and returns it.
func (a *NodeArena) Add(n *SearchNode) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n.ID = len(a.nodes)
	a.nodes = append(a.nodes, n)
	return n.ID
}

// Get returns the node at index i.
func (a *NodeArena) Get(i int) (*SearchNode, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if i < 0 || i >= len(a.nodes) {
		return nil, false
	}
	return a.nodes[i], true
}

// Len returns the number of stored nodes.
func (a *NodeArena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.nodes)
}

// Lineage returns the chain from the root to the node at index i.
func (a *NodeArena) Lineage(i int) []*SearchNode {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var chain []*SearchNode
	for i >= 0 && i < len(a.nodes) {
		n := a.nodes[i]
		chain = append(chain, n)
		i = n.Parent
	}
	for l, r := 0, len(chain)-1; l < r; l, r = l+1, r-1 {
		chain[l], chain[r] = chain[r], chain[l]
	}
	return chain
}

// nodeFactory builds scored nodes and registers them in the arena.
type nodeFactory struct {
	arena     *NodeArena
	heuristic HeuristicConfig
	positives int
	negatives int
	now       func() time.Time
}

func (f *nodeFactory) build(expr *concept.Expr, parent int, cp, cn concept.IndividualSet, he uint32) *SearchNode {
	n := &SearchNode{
		Expression:          expr,
		Parent:              parent,
		CoveredPositive:     cp,
		CoveredNegative:     cn,
		HorizontalExpansion: he,
		CreatedAt:           f.now(),
	}
	n.Score = f.heuristic.Score(n, f.positives, f.negatives)
	f.arena.Add(n)
	return n
}

// child builds a node refined from parent. Horizontal expansion never
// decreases from parent to child and is at least the child's length.
func (f *nodeFactory) child(parent *SearchNode, expr *concept.Expr, cp, cn concept.IndividualSet) *SearchNode {
	he := parent.HorizontalExpansion
	if l := uint32(expr.Length()); l > he {
		he = l
	}
	return f.build(expr, parent.ID, cp, cn, he)
}

// expanded returns n with its horizontal expansion raised by one, so that the
// next refinement pass may produce longer expressions.
func (f *nodeFactory) expanded(n *SearchNode) *SearchNode {
	return f.build(n.Expression, n.Parent, n.CoveredPositive, n.CoveredNegative, n.HorizontalExpansion+1)
}

// root builds the start node covering every example.
func (f *nodeFactory) root(expr *concept.Expr, positives, negatives concept.IndividualSet) *SearchNode {
	return f.build(expr, NoParent, positives.Clone(), negatives.Clone(), uint32(expr.Length()))
}
