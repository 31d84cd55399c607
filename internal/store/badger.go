package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

// BadgerStore handles embedded BadgerDB operations.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a BadgerDB directory.
// If dir is empty, defaults to "./data/badger".
func NewBadgerStore(dir string, logger zerolog.Logger) (*BadgerStore, error) {
	if dir == "" {
		dir = "./data/badger"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{logger.With().Str("component", "badger").Logger()}).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Name() string { return "badger" }

// Close flushes and closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is still open.
func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger: database closed")
	}
	return nil
}

// Get retrieves the value for key.
func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

// Put stores value under key.
func (s *BadgerStore) Put(ctx context.Context, key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// Delete removes key. A transaction conflict means another writer touched
// the key concurrently, so the check is retried against the new state.
func (s *BadgerStore) Delete(ctx context.Context, key string) (bool, error) {
	for {
		existed := false
		err := s.db.Update(func(txn *badger.Txn) error {
			if _, err := txn.Get([]byte(key)); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return nil
				}
				return err
			}
			existed = true
			return txn.Delete([]byte(key))
		})
		if errors.Is(err, badger.ErrConflict) {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			continue
		}
		if err != nil {
			return false, err
		}
		return existed, nil
	}
}

// Scan iterates keys with the given prefix inside a read-only snapshot.
func (s *BadgerStore) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !fn(string(item.KeyCopy(nil)), value) {
				return nil
			}
		}
		return nil
	})
}

// badgerLogger routes badger's internal logging through zerolog.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(strings.TrimSpace(format), args...)
}
