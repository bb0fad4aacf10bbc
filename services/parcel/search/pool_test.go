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
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/AleutianAI/parcel/services/parcel/concept"
)

func TestWorkerPool_ProcessesTasks(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := NewWorkerPool(8)
	var handled atomic.Int64
	p.Start(context.Background(), 3, func(ctx context.Context, n *SearchNode) {
		handled.Add(1)
	})

	for i := 0; i < 8; i++ {
		if err := p.Submit(&SearchNode{Expression: concept.Thing()}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for handled.Load() < 8 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if handled.Load() != 8 {
		t.Fatalf("handled = %d, want 8", handled.Load())
	}

	drained, clean := p.Shutdown(time.Second)
	if !clean || len(drained) != 0 {
		t.Errorf("Shutdown = (%d drained, clean=%v)", len(drained), clean)
	}
	if err := p.Submit(&SearchNode{}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Submit after shutdown = %v, want ErrPoolClosed", err)
	}
}

func TestWorkerPool_QueueFullAndDrain(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := NewWorkerPool(2)
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	p.Start(context.Background(), 1, func(ctx context.Context, n *SearchNode) {
		started <- struct{}{}
		select {
		case <-block:
		case <-ctx.Done():
		}
	})

	_ = p.Submit(&SearchNode{ID: 1})
	<-started
	_ = p.Submit(&SearchNode{ID: 2})
	_ = p.Submit(&SearchNode{ID: 3})
	if err := p.Submit(&SearchNode{ID: 4}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Submit on full queue = %v, want ErrQueueFull", err)
	}
	if p.QueueLen() != 2 {
		t.Errorf("QueueLen = %d, want 2", p.QueueLen())
	}

	drained, clean := p.Shutdown(time.Second)
	if !clean {
		t.Error("worker did not observe cancellation")
	}
	if len(drained) != 2 || drained[0].ID != 2 || drained[1].ID != 3 {
		t.Errorf("drained = %v, want nodes 2 and 3", drained)
	}
	if p.Accepting() {
		t.Error("pool still accepting after shutdown")
	}
	close(block)
}

func TestWorkerPool_ShutdownGraceExpires(t *testing.T) {
	p := NewWorkerPool(1)
	release := make(chan struct{})
	started := make(chan struct{})
	p.Start(context.Background(), 1, func(ctx context.Context, n *SearchNode) {
		close(started)
		<-release
	})
	_ = p.Submit(&SearchNode{})
	<-started

	_, clean := p.Shutdown(10 * time.Millisecond)
	if clean {
		t.Error("Shutdown reported clean while a worker ignored cancellation")
	}
	close(release)
	<-p.Done()
}

func TestWorkerPool_CancelDoesNotWait(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := NewWorkerPool(4)
	release := make(chan struct{})
	started := make(chan struct{})
	p.Start(context.Background(), 1, func(ctx context.Context, n *SearchNode) {
		close(started)
		<-ctx.Done()
		<-release
	})
	if err := p.Submit(&SearchNode{}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started
	if err := p.Submit(&SearchNode{}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	cancelled := make(chan struct{})
	go func() {
		p.Cancel()
		close(cancelled)
	}()
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("Cancel waited for a running worker")
	}

	if p.Accepting() {
		t.Error("pool still accepting after Cancel")
	}
	if err := p.Submit(&SearchNode{}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Submit after Cancel = %v, want ErrPoolClosed", err)
	}

	close(release)
	drained, clean := p.Shutdown(time.Second)
	if !clean {
		t.Error("Shutdown not clean after the worker returned")
	}
	if len(drained) != 1 {
		t.Errorf("drained %d nodes, want 1", len(drained))
	}
}
