package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("store: key not found")

// KV is the ordered key/value interface every persistence backend implements.
// The key store, message store and their indexes are all laid out on top of it.
type KV interface {
	// Connection management
	Name() string
	Ping(ctx context.Context) error
	Close() error

	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put creates or replaces the value for key.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key and reports whether it existed.
	// Only one of several concurrent deletes of the same key observes true.
	Delete(ctx context.Context, key string) (bool, error)

	// Scan calls fn for every key with the given prefix in ascending byte
	// order until fn returns false. No backend lock is held while fn runs.
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error
}

// prefixEnd returns the smallest string greater than every string with the
// given prefix, or "" if no such bound exists.
func prefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}
