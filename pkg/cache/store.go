// Package cache keeps the latest scrape per user and data kind for a
// bounded time, on top of a pluggable key/value store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMiss is returned by a Store when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Store is the byte-level backend. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Backend names accepted by OpenStore.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// OpenStore builds the store for backend. addr is the redis address, dsn the
// sqlite path or postgres connection string.
func OpenStore(ctx context.Context, backend, addr, dsn string) (Store, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendRedis:
		r := NewRedisStore(addr)
		if !r.Healthy(ctx) {
			r.Close()
			return nil, fmt.Errorf("redis at %s is not reachable", addr)
		}
		return r, nil
	case BackendSQLite, BackendPostgres:
		return OpenSQL(ctx, backend, dsn)
	}
	return nil, fmt.Errorf("unknown cache backend %q", backend)
}
