package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ajramos/quickreply/internal/store"
)

const (
	metaAccount = "account"
	metaKind    = "kind"
)

// Backend persists one (account, kind) collection in its own SQLite file:
//
//	<root>/<account>/<kind>.sqlite3
//
// The database is opened lazily so reading an account that was never written
// does not create files.
type Backend struct {
	account string
	kind    store.Kind
	path    string

	mu      sync.Mutex
	db      *Store
	records *RecordStore
}

// NewBackend creates a SQLite backend for accountID/kind under root.
func NewBackend(root, accountID string, kind store.Kind) (*Backend, error) {
	if root == "" {
		return nil, fmt.Errorf("empty data directory")
	}
	if accountID == "" {
		return nil, fmt.Errorf("empty account id")
	}
	return &Backend{
		account: accountID,
		kind:    kind,
		path:    filepath.Join(store.AccountDir(root, accountID), string(kind)+".sqlite3"),
	}, nil
}

// Backends returns a factory creating SQLite backends under root.
func Backends(root string) store.BackendFactory {
	return func(accountID string, kind store.Kind) (store.Backend, error) {
		return NewBackend(root, accountID, kind)
	}
}

func (b *Backend) Location() string { return b.path }

func (b *Backend) Load(ctx context.Context) ([]store.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		if _, err := os.Stat(b.path); errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
	}
	rs, err := b.open(ctx)
	if err != nil {
		return nil, err
	}
	return rs.Load(ctx)
}

func (b *Backend) Save(ctx context.Context, records []store.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rs, err := b.open(ctx)
	if err != nil {
		return err
	}
	return rs.Replace(ctx, records)
}

// Remove closes the database and deletes its files.
func (b *Backend) Remove(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.closeLocked(); err != nil {
		return err
	}
	for _, p := range []string{b.path, b.path + "-wal", b.path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeLocked()
}

func (b *Backend) closeLocked() error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db, b.records = nil, nil
	return err
}

// open returns the record store, opening the database and checking ownership
// on first use. Callers hold b.mu.
func (b *Backend) open(ctx context.Context) (*RecordStore, error) {
	if b.records != nil {
		return b.records, nil
	}
	s, err := Open(ctx, b.path)
	if err != nil {
		return nil, err
	}
	rs := NewRecordStore(s)
	if err := b.claim(ctx, rs); err != nil {
		_ = s.Close()
		return nil, err
	}
	b.db, b.records = s, rs
	return rs, nil
}

func (b *Backend) claim(ctx context.Context, rs *RecordStore) error {
	owner, err := rs.Meta(ctx, metaAccount)
	if err != nil {
		return err
	}
	kind, err := rs.Meta(ctx, metaKind)
	if err != nil {
		return err
	}
	if owner == "" && kind == "" {
		if err := rs.SetMeta(ctx, metaAccount, b.account); err != nil {
			return err
		}
		return rs.SetMeta(ctx, metaKind, string(b.kind))
	}
	if owner != b.account || kind != string(b.kind) {
		return fmt.Errorf("database belongs to %s/%s, not %s/%s", owner, kind, b.account, b.kind)
	}
	return nil
}

var _ store.Backend = (*Backend)(nil)
