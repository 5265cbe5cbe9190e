// Package concurrency bounds the number of agent invocations running at
// once, independent of how many plans or tasks are in flight above it.
package concurrency

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Governor limits concurrent agent invocations process-wide using a
// weighted semaphore. Every call into the agent executor must acquire a
// slot first and release it when that single call is done (each retry
// attempt acquires its own slot), so that a burst of plans cannot fork
// unbounded child processes.
type Governor struct {
	sem *semaphore.Weighted
	max int64
}

// NewGovernor creates a Governor that allows at most maxInFlight
// concurrent agent invocations. maxInFlight below 1 is treated as 1.
func NewGovernor(maxInFlight int64) *Governor {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &Governor{sem: semaphore.NewWeighted(maxInFlight), max: maxInFlight}
}

// Acquire blocks until a slot is available or ctx is cancelled, in which
// case it returns ctx.Err().
func (g *Governor) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// Release returns a slot acquired by Acquire.
func (g *Governor) Release() {
	g.sem.Release(1)
}

// Run acquires a slot, runs fn, and releases the slot before returning.
// If ctx is cancelled while waiting for a slot, fn is never invoked and
// ctx.Err() is returned.
func (g *Governor) Run(ctx context.Context, fn func() error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	return fn()
}

// MaxInFlight returns the configured slot count.
func (g *Governor) MaxInFlight() int64 {
	return g.max
}

// TryAcquire attempts to acquire a slot without blocking, reporting
// whether it succeeded. It never queues behind a full pool of in-flight
// agent calls.
func (g *Governor) TryAcquire() bool {
	return g.sem.TryAcquire(1)
}
