package lock

import "context"

// Mutex is a FIFO mutual-exclusion lock. Unlike sync.Mutex, waiting for it can
// be abandoned through a context.
type Mutex struct {
	sem *Semaphore
}

// NewMutex creates an unlocked Mutex.
func NewMutex() *Mutex {
	return &Mutex{sem: NewSemaphore(1)}
}

// Acquire blocks until the lock is free and marks it held.
func (m *Mutex) Acquire(ctx context.Context) error {
	return m.sem.Acquire(ctx)
}

// TryAcquire takes the lock only if it is free.
func (m *Mutex) TryAcquire() bool {
	return m.sem.TryAcquire()
}

// Release hands the lock to the longest waiting acquirer, or marks it free.
func (m *Mutex) Release() {
	m.sem.Release()
}

// RunExclusive runs fn while holding the lock and always releases it.
func (m *Mutex) RunExclusive(ctx context.Context, fn func(context.Context) error) error {
	return m.sem.RunExclusive(ctx, fn)
}

// Locked reports whether the lock is currently held.
func (m *Mutex) Locked() bool {
	return m.sem.Held() > 0
}
