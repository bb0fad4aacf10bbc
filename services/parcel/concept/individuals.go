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
	"encoding/json"
	"sort"
)

// Individual identifies a named individual of the knowledge base.
type Individual string

// IndividualSet is an unordered set of individuals.
//
// Thread Safety: Not safe for concurrent mutation. Sets stored on search nodes
// are never mutated after the node is built.
type IndividualSet map[Individual]struct{}

// NewIndividualSet builds a set from the given members.
func NewIndividualSet(members ...Individual) IndividualSet {
	s := make(IndividualSet, len(members))
	for _, m := range members {
		s[m] = struct{}{}
	}
	return s
}

// Len returns the number of members.
func (s IndividualSet) Len() int { return len(s) }

// Contains reports membership.
func (s IndividualSet) Contains(i Individual) bool {
	_, ok := s[i]
	return ok
}

// Add inserts i and reports whether it was absent.
func (s IndividualSet) Add(i Individual) bool {
	if _, ok := s[i]; ok {
		return false
	}
	s[i] = struct{}{}
	return true
}

// Clone returns an independent copy.
func (s IndividualSet) Clone() IndividualSet {
	out := make(IndividualSet, len(s))
	for i := range s {
		out[i] = struct{}{}
	}
	return out
}

// Intersect returns the members present in both sets.
func (s IndividualSet) Intersect(other IndividualSet) IndividualSet {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	out := make(IndividualSet)
	for i := range small {
		if _, ok := large[i]; ok {
			out[i] = struct{}{}
		}
	}
	return out
}

// IntersectionSize counts the members present in both sets without allocating.
func (s IndividualSet) IntersectionSize(other IndividualSet) int {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	n := 0
	for i := range small {
		if _, ok := large[i]; ok {
			n++
		}
	}
	return n
}

// Intersects reports whether the sets share at least one member.
func (s IndividualSet) Intersects(other IndividualSet) bool {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	for i := range small {
		if _, ok := large[i]; ok {
			return true
		}
	}
	return false
}

// Difference returns the members of s not in other.
func (s IndividualSet) Difference(other IndividualSet) IndividualSet {
	out := make(IndividualSet)
	for i := range s {
		if _, ok := other[i]; !ok {
			out[i] = struct{}{}
		}
	}
	return out
}

// AddAll inserts every member of other into s and returns how many were new.
func (s IndividualSet) AddAll(other IndividualSet) int {
	added := 0
	for i := range other {
		if s.Add(i) {
			added++
		}
	}
	return added
}

// RemoveAll deletes every member of other from s and returns how many were
// removed.
func (s IndividualSet) RemoveAll(other IndividualSet) int {
	removed := 0
	for i := range other {
		if _, ok := s[i]; ok {
			delete(s, i)
			removed++
		}
	}
	return removed
}

// IsSubsetOf reports whether every member of s is in other.
func (s IndividualSet) IsSubsetOf(other IndividualSet) bool {
	for i := range s {
		if _, ok := other[i]; !ok {
			return false
		}
	}
	return true
}

// Sorted returns the members in lexical order.
func (s IndividualSet) Sorted() []Individual {
	out := make([]Individual, 0, len(s))
	for i := range s {
		out = append(out, i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// MarshalJSON encodes the set as a sorted array.
func (s IndividualSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes an array of individuals.
func (s *IndividualSet) UnmarshalJSON(data []byte) error {
	var members []Individual
	if err := json.Unmarshal(data, &members); err != nil {
		return err
	}
	*s = NewIndividualSet(members...)
	return nil
}
