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
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/parcel/services/parcel/search"
)

const runPrefix = "run/"

var (
	// ErrNotFound indicates no record exists for the run ID.
	ErrNotFound = errors.New("store: run not found")

	// ErrInvalidRecord indicates a record without a run ID.
	ErrInvalidRecord = errors.New("store: record has no run id")
)

// Definition is a stored definition with its coverage counts.
type Definition struct {
	Expression      string   `json:"expression"`
	CoveredPositive int      `json:"covered_positive"`
	CoveredNegative int      `json:"covered_negative"`
	Composite       []string `json:"composite,omitempty"`
}

// RunRecord is the persisted summary of one learning run.
type RunRecord struct {
	ID            string                   `json:"id"`
	Problem       string                   `json:"problem"`
	KnowledgeBase string                   `json:"knowledge_base"`
	StartedAt     time.Time                `json:"started_at"`
	Duration      time.Duration            `json:"duration"`
	Reason        search.TerminationReason `json:"reason"`
	Final         string                   `json:"final,omitempty"`
	Grouped       string                   `json:"grouped,omitempty"`
	Accuracy      float64                  `json:"accuracy"`
	Completeness  float64                  `json:"completeness"`

	Reduced                   []Definition `json:"reduced"`
	PartialDefinitions        []Definition `json:"partial_definitions"`
	CounterPartialDefinitions []Definition `json:"counter_partial_definitions"`

	Config search.Config   `json:"config"`
	Stats  search.Snapshot `json:"stats"`
}

// NewRunRecord summarizes a report for storage.
func NewRunRecord(report *search.Report, knowledgeBase string, cfg search.Config) RunRecord {
	rec := RunRecord{
		ID:                        report.RunID,
		Problem:                   report.Problem,
		KnowledgeBase:             knowledgeBase,
		StartedAt:                 report.StartedAt,
		Duration:                  report.Duration,
		Reason:                    report.Reason,
		Grouped:                   report.Grouped,
		Accuracy:                  report.Accuracy,
		Completeness:              report.Completeness,
		PartialDefinitions:        definitions(report.PartialDefinitions),
		CounterPartialDefinitions: definitions(report.CounterPartialDefinitions),
		Config:                    cfg,
		Stats:                     report.Stats,
	}
	if report.Final != nil {
		rec.Final = report.Final.String()
	}
	for _, r := range report.Reduced {
		rec.Reduced = append(rec.Reduced, definition(r.Node))
	}
	return rec
}

func definitions(nodes []*search.SearchNode) []Definition {
	out := make([]Definition, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, definition(n))
	}
	return out
}

func definition(n *search.SearchNode) Definition {
	d := Definition{
		Expression:      n.Expression.String(),
		CoveredPositive: n.CoveredPositive.Len(),
		CoveredNegative: n.CoveredNegative.Len(),
	}
	for _, c := range n.CompositeList {
		d.Composite = append(d.Composite, c.Expression.String())
	}
	return d
}

// RunStore reads and writes run records.
//
// Thread Safety: Safe for concurrent use.
type RunStore struct {
	db        *db
	retention time.Duration
}

// Open opens the run store described by cfg.
//
// Outputs:
//   - *RunStore: The store. Call Close when done.
//   - error: Non-nil if the database cannot be opened.
func Open(cfg Config) (*RunStore, error) {
	d, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	return &RunStore{db: d, retention: cfg.Retention}, nil
}

// Close stops background GC and closes the database.
func (s *RunStore) Close() error {
	return s.db.close()
}

// Save writes rec, replacing any record with the same ID.
func (s *RunStore) Save(ctx context.Context, rec RunRecord) error {
	if rec.ID == "" {
		return ErrInvalidRecord
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", rec.ID, err)
	}
	return s.db.update(ctx, func(txn *badger.Txn) error {
		e := badger.NewEntry(runKey(rec.ID), data)
		if s.retention > 0 {
			e = e.WithTTL(s.retention)
		}
		return txn.SetEntry(e)
	})
}

// Get returns the record for id.
//
// Outputs:
//   - RunRecord: The record.
//   - error: ErrNotFound if no record exists.
func (s *RunStore) Get(ctx context.Context, id string) (RunRecord, error) {
	var rec RunRecord
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return rec, nil
}

// List returns stored records, most recent first. limit <= 0 returns all.
func (s *RunStore) List(ctx context.Context, limit int) ([]RunRecord, error) {
	var out []RunRecord
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(runPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec RunRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes the record for id.
//
// Outputs:
//   - error: ErrNotFound if no record exists.
func (s *RunStore) Delete(ctx context.Context, id string) error {
	err := s.db.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(runKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Delete(runKey(id))
	})
	if err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	return nil
}

func runKey(id string) []byte {
	return []byte(runPrefix + id)
}
