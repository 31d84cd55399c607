package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore handles PostgreSQL key/value operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.RunMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// RunMigrations creates the kv table if it does not exist.
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS kv (
			k TEXT COLLATE "C" PRIMARY KEY,
			v BYTEA NOT NULL
		)
	`)
	return err
}

func (s *PostgresStore) Name() string { return "postgres" }

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Get retrieves the value for key.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT v FROM kv WHERE k = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

// Put upserts value under key.
func (s *PostgresStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv (k, v) VALUES ($1, $2)
		ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v
	`, key, value)
	return err
}

// Delete removes key.
func (s *PostgresStore) Delete(ctx context.Context, key string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM kv WHERE k = $1`, key)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Scan pages through the key range in byte order.
func (s *PostgresStore) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error {
	end := prefixEnd(prefix)
	lower, op := prefix, ">="

	for {
		var (
			rows pgx.Rows
			err  error
		)
		if end == "" {
			rows, err = s.pool.Query(ctx,
				`SELECT k, v FROM kv WHERE k `+op+` $1 ORDER BY k LIMIT $2`,
				lower, scanPageSize)
		} else {
			rows, err = s.pool.Query(ctx,
				`SELECT k, v FROM kv WHERE k `+op+` $1 AND k < $2 ORDER BY k LIMIT $3`,
				lower, end, scanPageSize)
		}
		if err != nil {
			return err
		}

		page, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (kvEntry, error) {
			var e kvEntry
			err := row.Scan(&e.key, &e.value)
			return e, err
		})
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
		lower, op = page[len(page)-1].key, ">"
	}
}
