package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("entity not found")
	// ErrStorage marks failures of the backing file or database.
	ErrStorage = errors.New("storage failure")
	// ErrClosed is returned by a store used after Close.
	ErrClosed = errors.New("store closed")
)

// StorageError describes an I/O failure at the store boundary. The cache is
// never modified when one is returned.
type StorageError struct {
	Account string
	Kind    Kind
	Op      string // "load", "save", "encode", "decode", "remove", "use"
	Path    string
	Err     error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("storage error: %s %s/%s: %v", e.Op, e.Account, e.Kind, e.Err)
	}
	return fmt.Sprintf("storage error: %s %s/%s (%s): %v", e.Op, e.Account, e.Kind, e.Path, e.Err)
}

// Unwrap exposes both ErrStorage and the underlying cause to errors.Is.
func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}
