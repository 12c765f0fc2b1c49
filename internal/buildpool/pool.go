// Package buildpool bounds concurrent heavyweight sandbox operations.
package buildpool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool limits concurrent image builds using a weighted semaphore. All
// sessions share one Pool so parallel workers cannot start more docker
// builds than the host can take.
type Pool struct {
	sem   *semaphore.Weighted
	limit int
}

// New creates a Pool that allows at most limit concurrent operations.
func New(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit)), limit: limit}
}

// Limit returns the configured concurrency.
func (p *Pool) Limit() int {
	if p == nil {
		return 0
	}
	return p.limit
}

// Run acquires a slot, runs fn, and releases the slot.
// Returns ctx.Err() if the context is cancelled while waiting for a slot.
// A nil pool runs fn directly.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}
