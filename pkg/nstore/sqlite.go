package nstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
)

// SQLiteKV runs KV operations inside one SQL transaction against a table
// shaped like:
//
//	CREATE TABLE kv (key BLOB PRIMARY KEY, value BLOB NOT NULL) WITHOUT ROWID;
//
// SQLite compares BLOBs with memcmp, which is the order Pack preserves.
type SQLiteKV struct {
	ctx   context.Context
	tx    *sql.Tx
	table string
}

// NewSQLiteKV binds a KV to tx. table defaults to "kv".
func NewSQLiteKV(ctx context.Context, tx *sql.Tx, table string) *SQLiteKV {
	if table == "" {
		table = "kv"
	}
	return &SQLiteKV{ctx: ctx, tx: tx, table: table}
}

func (s *SQLiteKV) Get(key []byte) ([]byte, bool, error) {
	var value []byte
	err := s.tx.QueryRowContext(s.ctx, "SELECT value FROM "+s.table+" WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv get: %w", err)
	}
	return value, true, nil
}

func (s *SQLiteKV) Set(key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.tx.ExecContext(s.ctx,
		"INSERT INTO "+s.table+" (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("kv set: %w", err)
	}
	return nil
}

func (s *SQLiteKV) Delete(key []byte) error {
	if _, err := s.tx.ExecContext(s.ctx, "DELETE FROM "+s.table+" WHERE key = ?", key); err != nil {
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}

func (s *SQLiteKV) Scan(start, end []byte) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		var (
			rows *sql.Rows
			err  error
		)
		if end == nil {
			rows, err = s.tx.QueryContext(s.ctx,
				"SELECT key FROM "+s.table+" WHERE key >= ? ORDER BY key", start)
		} else {
			rows, err = s.tx.QueryContext(s.ctx,
				"SELECT key FROM "+s.table+" WHERE key >= ? AND key < ? ORDER BY key", start, end)
		}
		if err != nil {
			yield(nil, fmt.Errorf("kv scan: %w", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			var key []byte
			if err := rows.Scan(&key); err != nil {
				yield(nil, fmt.Errorf("kv scan: %w", err))
				return
			}
			if !yield(key, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("kv scan: %w", err))
		}
	}
}
