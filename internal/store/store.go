// Package store provides account-scoped, cached entity collections persisted
// through a pluggable Backend.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ajramos/quickreply/internal/lock"
	"go.uber.org/zap"
)

// Entity is implemented by every persisted model. Clone must return a deep copy.
type Entity[T any] interface {
	EntityID() string
	Clone() T
}

// Observer receives the outcome of every store operation.
type Observer interface {
	ObserveStoreOp(kind Kind, op string, elapsed time.Duration, err error)
}

// Option configures a Store.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	observer Observer
}

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver sets the operation observer, usually the metrics collector.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// Store is the cached collection of one entity kind for one account. Mutations
// are serialised through the lock manager under LockKey; reads are served from
// the cache once it is warm.
type Store[T Entity[T]] struct {
	account  string
	kind     Kind
	backend  Backend
	locks    *lock.Manager
	logger   *zap.Logger
	observer Observer

	mu     sync.RWMutex
	loaded bool
	closed bool
	items  []T
	index  map[string]int
}

// New binds a store to accountID and kind.
func New[T Entity[T]](accountID string, kind Kind, backend Backend, locks *lock.Manager, opts ...Option) (*Store[T], error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, fmt.Errorf("store: empty account id")
	}
	if backend == nil {
		return nil, fmt.Errorf("store: nil backend")
	}
	if locks == nil {
		return nil, fmt.Errorf("store: nil lock manager")
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return &Store[T]{
		account:  accountID,
		kind:     kind,
		backend:  backend,
		locks:    locks,
		logger:   o.logger.With(zap.String("account", accountID), zap.String("kind", string(kind))),
		observer: o.observer,
		index:    make(map[string]int),
	}, nil
}

// AccountID returns the account this store is bound to.
func (s *Store[T]) AccountID() string { return s.account }

// Kind returns the entity kind.
func (s *Store[T]) Kind() Kind { return s.kind }

// LockKey returns the lock manager key guarding this store's writes.
func (s *Store[T]) LockKey() string {
	return LockKey(s.account, s.kind)
}

// LockKey returns the lock key for an (account, kind) pair.
func LockKey(accountID string, kind Kind) string {
	return "store:" + accountID + ":" + string(kind)
}

// Save inserts or replaces e and returns a copy of the stored value.
func (s *Store[T]) Save(ctx context.Context, e T) (T, error) {
	var zero T
	id := e.EntityID()
	if id == "" {
		return zero, fmt.Errorf("store: entity without id")
	}
	stored := e.Clone()
	err := s.mutate(ctx, "save", func(items []T, index map[string]int) ([]T, bool, error) {
		if i, ok := index[id]; ok {
			items[i] = stored
		} else {
			items = append(items, stored)
		}
		return items, true, nil
	})
	if err != nil {
		return zero, err
	}
	return stored.Clone(), nil
}

// SaveAll upserts every entity with a single write.
func (s *Store[T]) SaveAll(ctx context.Context, entities []T) error {
	for _, e := range entities {
		if e.EntityID() == "" {
			return fmt.Errorf("store: entity without id")
		}
	}
	if len(entities) == 0 {
		return nil
	}
	return s.mutate(ctx, "save_all", func(items []T, index map[string]int) ([]T, bool, error) {
		for _, e := range entities {
			stored := e.Clone()
			if i, ok := index[e.EntityID()]; ok {
				items[i] = stored
				continue
			}
			index[e.EntityID()] = len(items)
			items = append(items, stored)
		}
		return items, true, nil
	})
}

// Insert builds a new entity from the current collection and appends it under
// the store lock, so values derived from existing entities (such as the next
// order number) cannot race with concurrent inserts. build must not modify
// existing.
func (s *Store[T]) Insert(ctx context.Context, build func(existing []T) (T, error)) (T, error) {
	var created T
	err := s.mutate(ctx, "insert", func(items []T, index map[string]int) ([]T, bool, error) {
		e, err := build(items)
		if err != nil {
			return nil, false, err
		}
		id := e.EntityID()
		if id == "" {
			return nil, false, fmt.Errorf("store: entity without id")
		}
		if _, ok := index[id]; ok {
			return nil, false, fmt.Errorf("store: duplicate id %q", id)
		}
		created = e.Clone()
		return append(items, created), true, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return created.Clone(), nil
}

// Mutate runs fn over a private copy of the collection under the store lock
// and persists the result when fn reports a change. Elements must be replaced,
// not modified through shared pointers.
func (s *Store[T]) Mutate(ctx context.Context, fn func(items []T) ([]T, bool, error)) error {
	return s.mutate(ctx, "mutate", func(items []T, _ map[string]int) ([]T, bool, error) {
		return fn(items)
	})
}

// Get returns a copy of the entity with the given id.
func (s *Store[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	start := time.Now()
	if err := s.ensureLoaded(ctx); err != nil {
		s.observe("get", start, err)
		return zero, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		s.observe("get", start, nil)
		return zero, fmt.Errorf("%w: %s %q", ErrNotFound, s.kind, id)
	}
	s.observe("get", start, nil)
	return s.items[i].Clone(), nil
}

// GetAll returns copies of every entity in insertion order.
func (s *Store[T]) GetAll(ctx context.Context) ([]T, error) {
	return s.Search(ctx, nil)
}

// Search returns copies of the entities matching pred, in insertion order. A
// nil pred matches everything.
func (s *Store[T]) Search(ctx context.Context, pred func(T) bool) ([]T, error) {
	start := time.Now()
	if err := s.ensureLoaded(ctx); err != nil {
		s.observe("search", start, err)
		return nil, err
	}
	s.mu.RLock()
	out := make([]T, 0, len(s.items))
	for _, item := range s.items {
		if pred == nil || pred(item) {
			out = append(out, item.Clone())
		}
	}
	s.mu.RUnlock()
	s.observe("search", start, nil)
	return out, nil
}

// Count returns the number of stored entities.
func (s *Store[T]) Count(ctx context.Context) (int, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items), nil
}

// Update applies mutate to a copy of the entity and persists the result. The
// entity's id must not change.
func (s *Store[T]) Update(ctx context.Context, id string, mutate func(*T) error) (T, error) {
	var updated T
	err := s.mutate(ctx, "update", func(items []T, index map[string]int) ([]T, bool, error) {
		i, ok := index[id]
		if !ok {
			return nil, false, fmt.Errorf("%w: %s %q", ErrNotFound, s.kind, id)
		}
		next := items[i].Clone()
		if err := mutate(&next); err != nil {
			return nil, false, err
		}
		if next.EntityID() != id {
			return nil, false, fmt.Errorf("store: update changed id %q to %q", id, next.EntityID())
		}
		items[i] = next
		updated = next
		return items, true, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return updated.Clone(), nil
}

// Delete removes the entity with the given id. Deleting a missing id succeeds.
func (s *Store[T]) Delete(ctx context.Context, id string) error {
	_, err := s.BatchDelete(ctx, []string{id})
	return err
}

// BatchDelete removes every listed id with a single write and returns how many
// entities were actually removed. Unknown ids are ignored.
func (s *Store[T]) BatchDelete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	removed := 0
	err := s.mutate(ctx, "delete", func(items []T, index map[string]int) ([]T, bool, error) {
		kept := items[:0]
		for _, item := range items {
			if _, ok := drop[item.EntityID()]; ok {
				removed++
				continue
			}
			kept = append(kept, item)
		}
		return kept, removed > 0, nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Clear removes the backing data and empties the cache.
func (s *Store[T]) Clear(ctx context.Context) error {
	start := time.Now()
	err := s.locks.WithLock(ctx, s.LockKey(), func(ctx context.Context) error {
		if err := s.checkOpen(); err != nil {
			return err
		}
		if err := s.backend.Remove(ctx); err != nil {
			return s.storageError("remove", err)
		}
		s.mu.Lock()
		s.items = nil
		s.index = make(map[string]int)
		s.loaded = true
		s.mu.Unlock()
		return nil
	})
	s.observe("clear", start, err)
	if err == nil {
		s.logger.Info("store cleared")
	}
	return err
}

// Quiesce waits until every write queued before the call has finished.
func (s *Store[T]) Quiesce(ctx context.Context) error {
	return s.locks.WithLock(ctx, s.LockKey(), func(context.Context) error { return nil })
}

// Close drains pending writes, releases the backend and makes later calls fail
// with ErrClosed. Closing twice is a no-op.
func (s *Store[T]) Close(ctx context.Context) error {
	return s.locks.WithLock(ctx, s.LockKey(), func(context.Context) error {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil
		}
		s.closed = true
		s.items = nil
		s.index = make(map[string]int)
		s.loaded = false
		s.mu.Unlock()

		if err := s.backend.Close(); err != nil {
			return s.storageError("close", err)
		}
		return nil
	})
}

// mutate runs fn over a private copy of the collection under the store lock.
// When fn reports a change, the result is persisted before it replaces the
// cache, so a failed write leaves the cache untouched.
func (s *Store[T]) mutate(ctx context.Context, op string, fn func(items []T, index map[string]int) ([]T, bool, error)) error {
	start := time.Now()
	err := s.locks.WithLock(ctx, s.LockKey(), func(ctx context.Context) error {
		if err := s.checkOpen(); err != nil {
			return err
		}
		if err := s.loadLocked(ctx); err != nil {
			return err
		}

		s.mu.RLock()
		items := make([]T, len(s.items))
		copy(items, s.items)
		index := make(map[string]int, len(s.index))
		for k, v := range s.index {
			index[k] = v
		}
		s.mu.RUnlock()

		next, changed, err := fn(items, index)
		if err != nil || !changed {
			return err
		}
		if err := s.persist(ctx, next); err != nil {
			return err
		}

		s.mu.Lock()
		s.items = next
		s.index = buildIndex(next)
		s.mu.Unlock()
		return nil
	})
	s.observe(op, start, err)
	if err != nil {
		s.logger.Debug("store operation failed", zap.String("op", op), zap.Error(err))
	}
	return err
}

func (s *Store[T]) persist(ctx context.Context, items []T) error {
	records := make([]Record, 0, len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return s.storageError("encode", err)
		}
		records = append(records, Record{ID: item.EntityID(), Data: data})
	}
	if err := s.backend.Save(ctx, records); err != nil {
		s.logger.Warn("persist failed", zap.String("path", s.backend.Location()), zap.Error(err))
		return s.storageError("save", err)
	}
	return nil
}

// ensureLoaded warms the cache under the store lock on first use.
func (s *Store[T]) ensureLoaded(ctx context.Context) error {
	s.mu.RLock()
	loaded, closed := s.loaded, s.closed
	s.mu.RUnlock()
	if closed {
		return s.storageError("use", ErrClosed)
	}
	if loaded {
		return nil
	}
	return s.locks.WithLock(ctx, s.LockKey(), func(ctx context.Context) error {
		if err := s.checkOpen(); err != nil {
			return err
		}
		return s.loadLocked(ctx)
	})
}

// loadLocked reads the backend into the cache. Callers hold the store lock.
func (s *Store[T]) loadLocked(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}

	records, err := s.backend.Load(ctx)
	if err != nil {
		return s.storageError("load", err)
	}
	items := make([]T, 0, len(records))
	for _, rec := range records {
		var item T
		if err := json.Unmarshal(rec.Data, &item); err != nil {
			return s.storageError("decode", fmt.Errorf("record %q: %w", rec.ID, err))
		}
		items = append(items, item)
	}

	s.mu.Lock()
	s.items = items
	s.index = buildIndex(items)
	s.loaded = true
	s.mu.Unlock()
	s.logger.Debug("store loaded", zap.Int("count", len(items)))
	return nil
}

func (s *Store[T]) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return s.storageError("use", ErrClosed)
	}
	return nil
}

func (s *Store[T]) storageError(op string, err error) error {
	return &StorageError{
		Account: s.account,
		Kind:    s.kind,
		Op:      op,
		Path:    s.backend.Location(),
		Err:     err,
	}
}

func (s *Store[T]) observe(op string, start time.Time, err error) {
	if s.observer != nil {
		s.observer.ObserveStoreOp(s.kind, op, time.Since(start), err)
	}
}

func buildIndex[T Entity[T]](items []T) map[string]int {
	index := make(map[string]int, len(items))
	for i, item := range items {
		index[item.EntityID()] = i
	}
	return index
}
