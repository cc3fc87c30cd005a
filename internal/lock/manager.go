package lock

import (
	"context"
	"sort"
	"sync"
)

// SwitchKey is the lock key that serialises account switches process-wide.
const SwitchKey = "switch"

// Manager is a registry of named mutexes. Entries are created on first use and
// removed once nobody holds or waits for them, so the registry only contains
// keys that are in use.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   *Mutex
	refs int // holders + waiters
}

// NewManager creates an empty lock manager.
func NewManager() *Manager {
	return &Manager{locks: make(map[string]*entry)}
}

// WithLock acquires the lock named key, runs fn and releases the lock even if
// fn fails or panics.
func (m *Manager) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	e := m.retain(key)
	defer m.drop(key, e)
	return e.mu.RunExclusive(ctx, fn)
}

func (m *Manager) retain(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.locks[key]
	if !ok {
		e = &entry{mu: NewMutex()}
		m.locks[key] = e
	}
	e.refs++
	return e
}

func (m *Manager) drop(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.refs--
	if e.refs == 0 && m.locks[key] == e {
		delete(m.locks, key)
	}
}

// Pending returns how many callers currently hold or wait for key.
func (m *Manager) Pending(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.locks[key]; ok {
		return e.refs
	}
	return 0
}

// Locked reports whether key is currently held.
func (m *Manager) Locked(key string) bool {
	m.mu.Lock()
	e, ok := m.locks[key]
	m.mu.Unlock()
	return ok && e.mu.Locked()
}

// Len returns the number of live entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// Keys returns the live keys in sorted order.
func (m *Manager) Keys() []string {
	m.mu.Lock()
	keys := make([]string, 0, len(m.locks))
	for k := range m.locks {
		keys = append(keys, k)
	}
	m.mu.Unlock()
	sort.Strings(keys)
	return keys
}
