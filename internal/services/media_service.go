package services

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ajramos/quickreply/internal/store"
)

// MediaStore keeps the media files of one account under
//
//	<root>/<account>/media/
//
// Refs are absolute file paths, so templates can hand them to the surface as is.
type MediaStore struct {
	dir string
	ids IDGenerator
}

// NewMediaStore creates the media store of accountID under root.
func NewMediaStore(root, accountID string, ids IDGenerator) *MediaStore {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	dir := filepath.Join(store.AccountDir(root, accountID), "media")
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return &MediaStore{dir: dir, ids: ids}
}

// Dir returns the media directory.
func (m *MediaStore) Dir() string { return m.dir }

// Import copies src into the media directory and returns its ref.
func (m *MediaStore) Import(src string) (string, error) {
	// #nosec G304 - user-selected file
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open media: %w", err)
	}
	defer in.Close()
	return m.store(filepath.Ext(src), in)
}

// Write stores data under a fresh name keeping name's extension.
func (m *MediaStore) Write(name string, data []byte) (string, error) {
	return m.store(filepath.Ext(filepath.Base(name)), strings.NewReader(string(data)))
}

func (m *MediaStore) store(ext string, r io.Reader) (string, error) {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	dst := filepath.Join(m.dir, m.ids.New()+strings.ToLower(ext))
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return "", err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return "", err
	}
	return dst, nil
}

// Read returns the content of ref, which may live outside the media directory.
func (m *MediaStore) Read(ref string) ([]byte, error) {
	// #nosec G304 - ref comes from a stored template
	return os.ReadFile(ref)
}

// Owns reports whether ref is a file inside this account's media directory.
func (m *MediaStore) Owns(ref string) bool {
	if ref == "" {
		return false
	}
	rel, err := filepath.Rel(m.dir, filepath.Clean(ref))
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}

// Delete removes an owned media file. Foreign or missing refs are a no-op.
func (m *MediaStore) Delete(ref string) error {
	if !m.Owns(ref) {
		return nil
	}
	if err := os.Remove(ref); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveAll deletes the whole media directory.
func (m *MediaStore) RemoveAll() error {
	return os.RemoveAll(m.dir)
}
