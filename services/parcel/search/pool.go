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
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// TaskHandler processes one node. It must observe ctx and return promptly
// once it is cancelled.
type TaskHandler func(ctx context.Context, node *SearchNode)

// WorkerPool is a fixed set of long-lived workers reading nodes from a
// bounded queue.
//
// Thread Safety: Safe for concurrent use.
type WorkerPool struct {
	queue chan *SearchNode

	mu        sync.RWMutex
	accepting bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorkerPool creates a pool whose queue holds at most queueLength nodes.
func NewWorkerPool(queueLength int) *WorkerPool {
	return &WorkerPool{
		queue: make(chan *SearchNode, queueLength),
		done:  make(chan struct{}),
	}
}

// Start launches size workers running handler. It must be called once.
func (p *WorkerPool) Start(ctx context.Context, size int, handler TaskHandler) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.mu.Lock()
	p.accepting = true
	p.mu.Unlock()

	var g errgroup.Group
	for i := 0; i < size; i++ {
		g.Go(func() error {
			for {
				if ctx.Err() != nil {
					return nil
				}
				select {
				case <-ctx.Done():
					return nil
				case n := <-p.queue:
					handler(ctx, n)
				}
			}
		})
	}
	go func() {
		_ = g.Wait()
		close(p.done)
	}()
}

// Submit enqueues a node without blocking.
//
// Outputs:
//   - error: ErrPoolClosed after Shutdown began, ErrQueueFull if the queue
//     has no room. The caller keeps ownership of the node on error.
func (p *WorkerPool) Submit(n *SearchNode) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.accepting {
		return ErrPoolClosed
	}
	select {
	case p.queue <- n:
		return nil
	default:
		return ErrQueueFull
	}
}

// Accepting reports whether Submit may succeed.
func (p *WorkerPool) Accepting() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.accepting
}

// QueueLen returns the number of queued, not yet started nodes.
func (p *WorkerPool) QueueLen() int { return len(p.queue) }

// Cancel stops accepting and cancels the workers' context. It does not wait
// for the workers, so it is safe to call from code the workers wait on.
func (p *WorkerPool) Cancel() {
	p.mu.Lock()
	p.accepting = false
	p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}

// Shutdown cancels the pool and waits up to grace for the workers to exit.
// It then removes every node still queued and returns them so the caller
// can put them back.
//
// Outputs:
//   - []*SearchNode: Nodes that were queued but never started.
//   - bool: True if every worker exited within the grace period.
func (p *WorkerPool) Shutdown(grace time.Duration) ([]*SearchNode, bool) {
	p.Cancel()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	clean := true
	select {
	case <-p.done:
	case <-timer.C:
		clean = false
	}

	var drained []*SearchNode
	for {
		select {
		case n := <-p.queue:
			drained = append(drained, n)
		default:
			return drained, clean
		}
	}
}

// Done is closed once every worker has exited.
func (p *WorkerPool) Done() <-chan struct{} { return p.done }
