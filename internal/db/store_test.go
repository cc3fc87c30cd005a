package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ajramos/quickreply/internal/lock"
	"github.com/ajramos/quickreply/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_ValidationErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		dbPath      string
		expectedErr string
	}{
		{"empty_path", "", "empty database path"},
		{"whitespace_path", "   ", "empty database path"},
		{"tabs_path", "\t\t", "empty database path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(ctx, tt.dbPath)
			assert.Nil(t, s)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedErr)
		})
	}
}

func TestOpen_CreatesFileWithStrictPerms(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "nested", "deep", "test.sqlite3")

	s, err := Open(ctx, dbPath)
	require.NoError(t, err)
	defer s.Close()

	assert.DirExists(t, filepath.Dir(dbPath))
	info, err := os.Stat(dbPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.Equal(t, dbPath, s.Path())
	assert.IsType(t, &sql.DB{}, s.DB())
}

func TestOpen_Migrations(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "migrate.sqlite3")

	s, err := Open(ctx, dbPath)
	require.NoError(t, err)

	var version int
	require.NoError(t, s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version))
	assert.Equal(t, SchemaVersion, version)

	for _, table := range []string{"records", "meta"} {
		var name string
		err := s.db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, table)
	}
	require.NoError(t, s.Close())

	// Reopening an up-to-date database is a no-op.
	s, err = Open(ctx, dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestClose_Nil(t *testing.T) {
	var s *Store
	assert.NoError(t, s.Close())
	assert.NoError(t, (&Store{}).Close())
	assert.Equal(t, "", s.Path())
}

func TestRecordStore_ReplaceAndLoad(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "records.sqlite3"))
	require.NoError(t, err)
	defer s.Close()

	rs := NewRecordStore(s)
	require.NoError(t, rs.Replace(ctx, []store.Record{
		{ID: "b", Data: json.RawMessage(`{"id":"b"}`)},
		{ID: "a", Data: json.RawMessage(`{"id":"a"}`)},
	}))

	got, err := rs.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID, "insertion order is preserved")
	assert.Equal(t, "a", got[1].ID)

	require.NoError(t, rs.Replace(ctx, []store.Record{{ID: "c", Data: json.RawMessage(`{}`)}}))
	got, err = rs.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ID)

	// Duplicate ids abort the whole transaction.
	err = rs.Replace(ctx, []store.Record{
		{ID: "x", Data: json.RawMessage(`{}`)},
		{ID: "x", Data: json.RawMessage(`{}`)},
	})
	assert.Error(t, err)
	got, err = rs.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ID)

	v, err := rs.Meta(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, v)
	require.NoError(t, rs.SetMeta(ctx, "k", "v1"))
	require.NoError(t, rs.SetMeta(ctx, "k", "v2"))
	v, err = rs.Meta(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}

func TestRecordStore_NotInitialized(t *testing.T) {
	var rs *RecordStore
	assert.Nil(t, NewRecordStore(nil))
	_, err := rs.Load(context.Background())
	assert.Error(t, err)
	assert.Error(t, rs.Replace(context.Background(), nil))
}

type item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (i item) EntityID() string { return i.ID }
func (i item) Clone() item      { return i }

func TestBackend_WithStore(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	locks := lock.NewManager()

	backend, err := NewBackend(root, "acct-1", store.KindGroups)
	require.NoError(t, err)

	items, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NoFileExists(t, backend.Location(), "reading does not create the database")

	s, err := store.New[item]("acct-1", store.KindGroups, backend, locks)
	require.NoError(t, err)
	_, err = s.Save(ctx, item{ID: "g1", Name: "Greetings"})
	require.NoError(t, err)
	_, err = s.Save(ctx, item{ID: "g2", Name: "Sales"})
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	reopened, err := NewBackend(root, "acct-1", store.KindGroups)
	require.NoError(t, err)
	s2, err := store.New[item]("acct-1", store.KindGroups, reopened, locks)
	require.NoError(t, err)
	all, err := s2.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Greetings", all[0].Name)

	require.NoError(t, s2.Clear(ctx))
	assert.NoFileExists(t, reopened.Location())
	require.NoError(t, s2.Close(ctx))
}

func TestBackend_RejectsForeignDatabase(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	owner, err := NewBackend(root, "acct-1", store.KindTemplates)
	require.NoError(t, err)
	require.NoError(t, owner.Save(ctx, nil))
	require.NoError(t, owner.Close())

	// Copy the file under another account's directory.
	intruder, err := NewBackend(root, "acct-2", store.KindTemplates)
	require.NoError(t, err)
	data, err := os.ReadFile(owner.Location())
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(intruder.Location()), 0o700))
	require.NoError(t, os.WriteFile(intruder.Location(), data, 0o600))

	_, err = intruder.Load(ctx)
	assert.Error(t, err)
}

func TestBackends_Factory(t *testing.T) {
	root := t.TempDir()
	b, err := Backends(root)("acct", store.KindConfig)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "acct", "config.sqlite3"), b.Location())

	_, err = NewBackend("", "acct", store.KindConfig)
	assert.Error(t, err)
	_, err = NewBackend(root, "", store.KindConfig)
	assert.Error(t, err)
}
