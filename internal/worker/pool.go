// Package worker bounds how many ACME order executions run concurrently.
// Providers rate-limit aggressively; the pool keeps a burst of execute-order
// calls from tripping those limits.
package worker

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Pool admits at most limit concurrent calls.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a pool with the given concurrency limit.
func NewPool(limit int64) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(limit)}
}

// Do runs fn once a slot is free. It blocks until admission or context
// cancellation; a cancelled wait returns without running fn.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("worker: cancelled while waiting for a slot: %w", err)
	}
	defer p.sem.Release(1)
	return fn(ctx)
}
