// Package lock provides the FIFO mutual-exclusion primitives used to serialise
// access to account-scoped storage and account switches.
package lock

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Semaphore allows up to n concurrent holders. Waiters are served in arrival
// order.
type Semaphore struct {
	size int64
	sem  *semaphore.Weighted
	held atomic.Int64
}

// NewSemaphore creates a semaphore with n slots. Values below 1 are treated as 1.
func NewSemaphore(n int) *Semaphore {
	if n < 1 {
		n = 1
	}
	return &Semaphore{
		size: int64(n),
		sem:  semaphore.NewWeighted(int64(n)),
	}
}

// Acquire blocks until a slot is free or ctx is done. A done context only
// aborts the wait; it never breaks a lock that is already held.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	s.held.Add(1)
	return nil
}

// TryAcquire takes a slot without waiting. It reports whether it succeeded.
func (s *Semaphore) TryAcquire() bool {
	if !s.sem.TryAcquire(1) {
		return false
	}
	s.held.Add(1)
	return true
}

// Release frees one slot, waking the longest waiting acquirer if any.
// Releasing a slot that is not held panics and leaves the counts untouched.
func (s *Semaphore) Release() {
	for {
		n := s.held.Load()
		if n <= 0 {
			panic("lock: release of a semaphore slot that is not held")
		}
		if s.held.CompareAndSwap(n, n-1) {
			break
		}
	}
	s.sem.Release(1)
}

// RunExclusive acquires a slot, runs fn and releases the slot on every exit
// path, including a panic inside fn.
func (s *Semaphore) RunExclusive(ctx context.Context, fn func(context.Context) error) error {
	if err := s.Acquire(ctx); err != nil {
		return err
	}
	defer s.Release()
	return fn(ctx)
}

// Held returns the number of slots currently taken.
func (s *Semaphore) Held() int {
	return int(s.held.Load())
}

// Size returns the configured number of slots.
func (s *Semaphore) Size() int {
	return int(s.size)
}
