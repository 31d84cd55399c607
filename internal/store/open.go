package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendBadger   = "badger"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string
	RedisURL    string
	DatabaseURL string
	SQLitePath  string
	BadgerDir   string
}

// Open connects to the configured backend.
func Open(ctx context.Context, opts Options, logger zerolog.Logger) (KV, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendRedis:
		if opts.RedisURL == "" {
			return nil, fmt.Errorf("store: %s backend requires REDIS_URL", opts.Backend)
		}
		return NewRedisStore(ctx, opts.RedisURL)
	case BackendBadger:
		return NewBadgerStore(opts.BadgerDir, logger)
	case BackendSQLite:
		return NewSQLiteStore(ctx, opts.SQLitePath)
	case BackendPostgres:
		if opts.DatabaseURL == "" {
			return nil, fmt.Errorf("store: %s backend requires DATABASE_URL", opts.Backend)
		}
		return NewPostgresStore(ctx, opts.DatabaseURL)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", opts.Backend)
	}
}
