package storeports

import (
	"context"
	"errors"
	"time"
)

// ErrWrongType is returned when a command targets a key holding another data type.
var ErrWrongType = errors.New("operation against a key holding the wrong kind of value")

// HashStore covers field maps stored under one key.
type HashStore interface {
	// HSet writes the given fields, leaving other fields of the hash untouched.
	HSet(ctx context.Context, key string, fields map[string]string) error
	// HGetAll returns every field; a missing key yields an empty map.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGet(ctx context.Context, key, field string) (value string, ok bool, err error)
	HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error)
}

// ListStore covers ordered string lists. Indexes follow Redis semantics:
// negative values count from the tail, stop is inclusive.
type ListStore interface {
	RPush(ctx context.Context, key string, values ...string) (length int64, err error)
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)
}

// StringStore covers plain values with optional expiry. A zero ttl means no expiry.
type StringStore interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes only when the key is absent and reports whether it wrote.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	MGet(ctx context.Context, keys ...string) ([]*string, error)
}

// KeyStore covers keyspace operations.
type KeyStore interface {
	Del(ctx context.Context, keys ...string) (removed int64, err error)
	// Scan enumerates keys matching a glob pattern. Order is unspecified and
	// keys created or expiring during the scan may or may not be reported.
	Scan(ctx context.Context, pattern string, count int64) ([]string, error)
	DBSize(ctx context.Context) (int64, error)
}

// ServerOps covers liveness and administration of the engine.
type ServerOps interface {
	Ping(ctx context.Context) error
	FlushDB(ctx context.Context) error
	Close() error
}

// KV is the shared key-value engine the memory components are built on.
// Every method is a single command that the engine executes atomically.
type KV interface {
	HashStore
	ListStore
	StringStore
	KeyStore
	ServerOps
}
