package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const fileFormatVersion = 1

// FileBackend stores a collection as a single JSON document:
//
//	<root>/<account>/<kind>.json
type FileBackend struct {
	account string
	kind    Kind
	path    string
}

type fileDocument struct {
	Version   int       `json:"version"`
	Account   string    `json:"account"`
	Kind      Kind      `json:"kind"`
	UpdatedAt time.Time `json:"updated_at"`
	Records   []Record  `json:"records"`
}

// NewFileBackend creates a backend for accountID/kind under root. Nothing is
// written until the first Save.
func NewFileBackend(root, accountID string, kind Kind) (*FileBackend, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("empty data directory")
	}
	if strings.TrimSpace(accountID) == "" {
		return nil, fmt.Errorf("empty account id")
	}
	return &FileBackend{
		account: accountID,
		kind:    kind,
		path:    filepath.Join(AccountDir(root, accountID), string(kind)+".json"),
	}, nil
}

func (b *FileBackend) Location() string { return b.path }

// Load returns the persisted records, or none if the file does not exist yet.
func (b *FileBackend) Load(ctx context.Context) ([]Record, error) {
	// #nosec G304 - path is derived from the sanitised account id
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", b.path, err)
	}
	if doc.Version > fileFormatVersion {
		return nil, fmt.Errorf("unsupported file version %d", doc.Version)
	}
	if doc.Account != b.account || doc.Kind != b.kind {
		return nil, fmt.Errorf("file belongs to %s/%s, not %s/%s", doc.Account, doc.Kind, b.account, b.kind)
	}
	return doc.Records, nil
}

// Save atomically replaces the file with records.
func (b *FileBackend) Save(ctx context.Context, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	doc := fileDocument{
		Version:   fileFormatVersion,
		Account:   b.account,
		Kind:      b.kind,
		UpdatedAt: time.Now().UTC(),
		Records:   records,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create account dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, string(b.kind)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// Remove deletes the file. A missing file is not an error.
func (b *FileBackend) Remove(ctx context.Context) error {
	if err := os.Remove(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (b *FileBackend) Close() error { return nil }

var _ Backend = (*FileBackend)(nil)
