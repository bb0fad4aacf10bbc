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
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/parcel/services/parcel/concept"
	"github.com/google/btree"
)

// DedupSet records every expression generated during a run. It only grows.
//
// Thread Safety: Safe for concurrent use.
type DedupSet struct {
	seen sync.Map // canonical rendering -> struct{}
	size atomic.Int64
}

// NewDedupSet creates an empty set.
func NewDedupSet() *DedupSet {
	return &DedupSet{}
}

// Claim records expr and reports whether it was new. Exactly one of any
// number of concurrent Claim calls for the same expression returns true.
func (d *DedupSet) Claim(expr *concept.Expr) bool {
	if _, loaded := d.seen.LoadOrStore(expr.String(), struct{}{}); loaded {
		return false
	}
	d.size.Add(1)
	return true
}

// Contains reports whether expr has been recorded.
func (d *DedupSet) Contains(expr *concept.Expr) bool {
	_, ok := d.seen.Load(expr.String())
	return ok
}

// Len returns the number of recorded expressions.
func (d *DedupSet) Len() int { return int(d.size.Load()) }

// frontierDegree is the btree node width.
const frontierDegree = 32

// Frontier is the best-first ordered set of nodes awaiting refinement.
//
// Nodes are ordered by score descending, then by canonical expression order,
// so two distinct nodes never compare equal. An expression is held at most
// once.
//
// Thread Safety: Safe for concurrent use.
type Frontier struct {
	mu      sync.Mutex
	tree    *btree.BTreeG[*SearchNode]
	members map[string]struct{}
	seen    *DedupSet
}

// NewFrontier creates an empty frontier backed by the given dedup set.
func NewFrontier(seen *DedupSet) *Frontier {
	return &Frontier{
		tree:    btree.NewG(frontierDegree, betterNode),
		members: make(map[string]struct{}),
		seen:    seen,
	}
}

// betterNode orders nodes best-first.
func betterNode(a, b *SearchNode) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return concept.Compare(a.Expression, b.Expression) < 0
}

// Insert adds a new node. It is silently rejected if the expression is
// already in the dedup set; otherwise the expression is recorded and the node
// added.
//
// Outputs:
//   - bool: True if the node was added.
func (f *Frontier) Insert(n *SearchNode) bool {
	if !f.seen.Claim(n.Expression) {
		return false
	}
	return f.Requeue(n)
}

// Requeue adds a node whose expression was already recorded in the dedup set:
// a node taken but not processed, a worker-evaluated child, or a re-expanded
// node. It refuses an expression the frontier already holds.
//
// Outputs:
//   - bool: True if the node was added.
func (f *Frontier) Requeue(n *SearchNode) bool {
	key := n.Expression.String()
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.members[key]; ok {
		return false
	}
	f.members[key] = struct{}{}
	f.tree.ReplaceOrInsert(n)
	return true
}

// TakeBest removes and returns the highest-scored node.
func (f *Frontier) TakeBest() (*SearchNode, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.tree.DeleteMin()
	if !ok {
		return nil, false
	}
	delete(f.members, n.Expression.String())
	return n, true
}

// Len returns the number of nodes held.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tree.Len()
}

// Contains reports whether the frontier holds a node for expr.
func (f *Frontier) Contains(expr *concept.Expr) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.members[expr.String()]
	return ok
}

// Snapshot returns the nodes best-first without removing them.
func (f *Frontier) Snapshot() []*SearchNode {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*SearchNode, 0, f.tree.Len())
	f.tree.Ascend(func(n *SearchNode) bool {
		out = append(out, n)
		return true
	})
	return out
}
