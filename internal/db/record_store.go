package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ajramos/quickreply/internal/store"
)

// RecordStore reads and replaces the ordered record set of a Store
type RecordStore struct {
	db *sql.DB
}

// NewRecordStore creates a record store from a base store
func NewRecordStore(s *Store) *RecordStore {
	if s == nil {
		return nil
	}
	return &RecordStore{db: s.DB()}
}

// Load returns every record ordered by position
func (rs *RecordStore) Load(ctx context.Context) ([]store.Record, error) {
	if rs == nil || rs.db == nil {
		return nil, fmt.Errorf("record store not initialized")
	}
	rows, err := rs.db.QueryContext(ctx, `SELECT id, data FROM records ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		out = append(out, store.Record{ID: id, Data: json.RawMessage(data)})
	}
	return out, rows.Err()
}

// Replace swaps the whole record set inside one transaction
func (rs *RecordStore) Replace(ctx context.Context, records []store.Record) error {
	if rs == nil || rs.db == nil {
		return fmt.Errorf("record store not initialized")
	}
	tx, err := rs.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		_ = tx.Rollback()
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records(position, id, data, updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for i, rec := range records {
		if _, err := stmt.ExecContext(ctx, i, rec.ID, string(rec.Data), now); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert %q: %w", rec.ID, err)
		}
	}
	return tx.Commit()
}

// Meta returns a metadata value, or "" when unset
func (rs *RecordStore) Meta(ctx context.Context, key string) (string, error) {
	if rs == nil || rs.db == nil {
		return "", fmt.Errorf("record store not initialized")
	}
	var out string
	err := rs.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key=?`, key).Scan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return out, err
}

// SetMeta upserts a metadata value
func (rs *RecordStore) SetMeta(ctx context.Context, key, value string) error {
	if rs == nil || rs.db == nil {
		return fmt.Errorf("record store not initialized")
	}
	_, err := rs.db.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES(?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value;
`, key, value)
	return err
}
