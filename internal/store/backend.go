package store

import (
	"context"
	"encoding/json"
)

// Kind names an entity collection. Each (account, kind) pair has its own file.
type Kind string

const (
	KindTemplates Kind = "templates"
	KindGroups    Kind = "groups"
	KindConfig    Kind = "config"
)

// Record is one persisted entity in collection order.
type Record struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// Backend persists the full ordered record set of one (account, kind) pair.
// Save replaces the whole collection.
type Backend interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, records []Record) error
	Remove(ctx context.Context) error
	Close() error
	Location() string
}

// BackendFactory opens the backend for an (account, kind) pair.
type BackendFactory func(accountID string, kind Kind) (Backend, error)

// FileBackends returns a factory creating JSON file backends under root.
func FileBackends(root string) BackendFactory {
	return func(accountID string, kind Kind) (Backend, error) {
		return NewFileBackend(root, accountID, kind)
	}
}
