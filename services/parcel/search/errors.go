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

import "errors"

// Sentinel errors for the search engine.
var (
	// ErrNoReasoner indicates the learner was started without a reasoner oracle.
	ErrNoReasoner = errors.New("search: no reasoner oracle bound")

	// ErrNoRefinementOperator indicates the learner was started without an operator.
	ErrNoRefinementOperator = errors.New("search: no refinement operator bound")

	// ErrNoPositiveExamples indicates the learning problem has no positives.
	ErrNoPositiveExamples = errors.New("search: learning problem has no positive examples")

	// ErrOverlappingExamples indicates an individual is both positive and negative.
	ErrOverlappingExamples = errors.New("search: individual is both a positive and a negative example")

	// ErrAlreadyRunning indicates Start was called while a run is in progress.
	ErrAlreadyRunning = errors.New("search: learner is already running")

	// ErrInvalidConfig indicates a configuration value is out of range.
	ErrInvalidConfig = errors.New("search: invalid configuration")

	// ErrPoolClosed indicates a task was submitted after the pool stopped accepting.
	ErrPoolClosed = errors.New("search: worker pool is not accepting tasks")

	// ErrQueueFull indicates the bounded task queue rejected a submission.
	ErrQueueFull = errors.New("search: task queue is full")

	// ErrNoRun indicates a query that needs a run before Start was called.
	ErrNoRun = errors.New("search: learner has not been started")

	// ErrUnknownNode indicates a node that does not belong to the current run.
	ErrUnknownNode = errors.New("search: node not in current run")
)
