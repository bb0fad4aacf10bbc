// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/parcel/services/parcel/concept"
	"github.com/AleutianAI/parcel/services/parcel/search"
)

func openInMemory(t *testing.T) *RunStore {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(id string, started time.Time) RunRecord {
	return RunRecord{
		ID:        id,
		Problem:   "fathers",
		StartedAt: started,
		Reason:    search.ReasonPartialDefinitions,
		Final:     "Male and (hasChild some Thing)",
		Accuracy:  1,
		Config:    search.DefaultConfig(),
	}
}

func TestRunStore_SaveGet(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()
	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, record("r1", started)))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "fathers", got.Problem)
	assert.Equal(t, search.ReasonPartialDefinitions, got.Reason)
	assert.True(t, got.StartedAt.Equal(started))
	assert.Equal(t, search.CombineAfterSearch, got.Config.Combination)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunStore_ListNewestFirst(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, record("old", base)))
	require.NoError(t, s.Save(ctx, record("new", base.Add(time.Hour))))
	require.NoError(t, s.Save(ctx, record("mid", base.Add(time.Minute))))

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{all[0].ID, all[1].ID, all[2].ID})

	two, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestRunStore_Delete(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, record("r1", time.Now())))
	require.NoError(t, s.Delete(ctx, "r1"))
	_, err := s.Get(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "r1"), ErrNotFound)
}

func TestRunStore_Rejects(t *testing.T) {
	s := openInMemory(t)

	assert.ErrorIs(t, s.Save(context.Background(), RunRecord{}), ErrInvalidRecord)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Save(ctx, record("r1", time.Now())), context.Canceled)
}

func TestRunStore_Persists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "runs")
	ctx := context.Background()

	s, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, record("r1", time.Now())))
	require.NoError(t, s.Close())

	s, err = Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.ID)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")

	_, err = Open(Config{Path: t.TempDir(), GCInterval: time.Minute, GCDiscardRatio: 2})
	assert.Error(t, err)
}

func TestNewRunRecord(t *testing.T) {
	a := &search.SearchNode{Expression: concept.Class("A"), CoveredPositive: concept.NewIndividualSet("p1", "p2"), CoveredNegative: concept.NewIndividualSet()}
	b := &search.SearchNode{Expression: concept.Class("B"), CoveredPositive: concept.NewIndividualSet(), CoveredNegative: concept.NewIndividualSet("n1")}
	combined := &search.SearchNode{
		Expression:      concept.And(concept.Class("D"), concept.Not(concept.Class("B"))),
		CoveredPositive: concept.NewIndividualSet("p3"),
		CoveredNegative: concept.NewIndividualSet(),
		CompositeList:   []*search.SearchNode{b},
	}
	report := &search.Report{
		RunID:                     "r1",
		Problem:                   "demo",
		Reason:                    search.ReasonPartialDefinitions,
		PartialDefinitions:        []*search.SearchNode{a, combined},
		CounterPartialDefinitions: []*search.SearchNode{b},
		Reduced:                   []search.ReducedDefinition{{Node: a, Contribution: 2}, {Node: combined, Contribution: 1}},
		Final:                     concept.Or(a.Expression, combined.Expression),
	}

	rec := NewRunRecord(report, "family", search.DefaultConfig())
	assert.Equal(t, "r1", rec.ID)
	assert.Equal(t, "family", rec.KnowledgeBase)
	assert.Equal(t, "A or (D and not B)", rec.Final)
	require.Len(t, rec.Reduced, 2)
	assert.Equal(t, []string{"B"}, rec.Reduced[1].Composite)
	assert.Equal(t, 2, rec.PartialDefinitions[0].CoveredPositive)
	assert.Equal(t, 1, rec.CounterPartialDefinitions[0].CoveredNegative)
}
