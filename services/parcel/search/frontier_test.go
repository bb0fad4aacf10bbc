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
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/AleutianAI/parcel/services/parcel/concept"
)

func node(expr string, score float64) *SearchNode {
	return &SearchNode{Expression: concept.MustParse(expr), Score: score, Parent: NoParent}
}

func TestFrontier_BestFirst(t *testing.T) {
	f := NewFrontier(NewDedupSet())
	f.Insert(node("A", 0.2))
	f.Insert(node("B", 0.9))
	f.Insert(node("C", 0.5))
	f.Insert(node("r some A", 0.5))

	var got []string
	for {
		n, ok := f.TakeBest()
		if !ok {
			break
		}
		got = append(got, n.Expression.String())
	}

	want := []string{"B", "C", "r some A", "A"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("TakeBest order = %v, want %v", got, want)
	}
}

func TestFrontier_InsertDeduplicates(t *testing.T) {
	seen := NewDedupSet()
	f := NewFrontier(seen)

	if !f.Insert(node("A", 0.5)) {
		t.Fatal("first insert rejected")
	}
	if f.Insert(node("A", 0.9)) {
		t.Error("second insert of the same expression accepted")
	}
	if f.Len() != 1 {
		t.Errorf("Len = %d, want 1", f.Len())
	}

	n, _ := f.TakeBest()
	if f.Insert(n) {
		t.Error("insert after take accepted; the expression was already seen")
	}
	if !f.Requeue(n) {
		t.Error("requeue of a taken node rejected")
	}
	if f.Requeue(node("A", 0.1)) {
		t.Error("requeue of an expression already held accepted")
	}
	if !seen.Contains(concept.Class("A")) {
		t.Error("dedup set lost the expression")
	}
}

func TestFrontier_SnapshotKeepsNodes(t *testing.T) {
	f := NewFrontier(NewDedupSet())
	f.Insert(node("A", 0.1))
	f.Insert(node("B", 0.3))

	snap := f.Snapshot()
	if len(snap) != 2 || snap[0].Expression.String() != "B" {
		t.Errorf("Snapshot = %v", snap)
	}
	if f.Len() != 2 {
		t.Errorf("Len after snapshot = %d, want 2", f.Len())
	}
	if !f.Contains(concept.Class("A")) {
		t.Error("Contains(A) = false")
	}
}

func TestDedupSet_ConcurrentClaim(t *testing.T) {
	d := NewDedupSet()
	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if d.Claim(concept.Class(fmt.Sprintf("K%d", j))) {
					wins.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 100 {
		t.Errorf("claims won = %d, want 100", wins.Load())
	}
	if d.Len() != 100 {
		t.Errorf("Len = %d, want 100", d.Len())
	}
}
