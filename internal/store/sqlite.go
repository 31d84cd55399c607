package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const scanPageSize = 256

// SQLiteStore handles SQLite key/value operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/hub.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/hub.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS kv (
		k TEXT PRIMARY KEY,
		v BLOB NOT NULL
	) WITHOUT ROWID;
	`)
	return err
}

func (s *SQLiteStore) Name() string { return "sqlite" }

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get retrieves the value for key.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Put upserts value under key.
func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (k, v) VALUES (?, ?)
		ON CONFLICT(k) DO UPDATE SET v = excluded.v
	`, key, value)
	return err
}

// Delete removes key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Scan pages through the key range so no cursor stays open while fn runs.
func (s *SQLiteStore) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error {
	end := prefixEnd(prefix)
	after := ""
	first := true

	for {
		var (
			rows *sql.Rows
			err  error
		)
		lower, op := prefix, ">="
		if !first {
			lower, op = after, ">"
		}
		if end == "" {
			rows, err = s.db.QueryContext(ctx,
				`SELECT k, v FROM kv WHERE k `+op+` ? ORDER BY k LIMIT ?`,
				lower, scanPageSize)
		} else {
			rows, err = s.db.QueryContext(ctx,
				`SELECT k, v FROM kv WHERE k `+op+` ? AND k < ? ORDER BY k LIMIT ?`,
				lower, end, scanPageSize)
		}
		if err != nil {
			return err
		}

		page, err := collectRows(rows)
		if err != nil {
			return err
		}

		for _, e := range page {
			if !fn(e.key, e.value) {
				return nil
			}
		}
		if len(page) < scanPageSize {
			return nil
		}
		after = page[len(page)-1].key
		first = false
	}
}

type kvEntry struct {
	key   string
	value []byte
}

func collectRows(rows *sql.Rows) ([]kvEntry, error) {
	defer rows.Close()

	var page []kvEntry
	for rows.Next() {
		var e kvEntry
		if err := rows.Scan(&e.key, &e.value); err != nil {
			return nil, err
		}
		page = append(page, e)
	}
	return page, rows.Err()
}
