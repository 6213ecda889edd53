package adapters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ports "github.com/ZanzyTHEbar/linkmem/linkmem/store/ports"
	"github.com/redis/go-redis/v9"
)

// RedisOptions tunes the pooled client built by NewRedisKVFromURL.
type RedisOptions struct {
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisKV implements the KV port on top of a go-redis client.
type RedisKV struct {
	client redis.UniversalClient
}

// NewRedisKV wraps an existing client. The caller keeps ownership of its options.
func NewRedisKV(client redis.UniversalClient) *RedisKV {
	return &RedisKV{client: client}
}

// NewRedisKVFromURL parses a redis:// or rediss:// URL and opens a connection pool.
// Zero-valued options keep the values from the URL or the go-redis defaults.
func NewRedisKVFromURL(rawURL string, opts RedisOptions) (*RedisKV, error) {
	o, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if opts.PoolSize > 0 {
		o.PoolSize = opts.PoolSize
	}
	if opts.MinIdleConns > 0 {
		o.MinIdleConns = opts.MinIdleConns
	}
	if opts.DialTimeout > 0 {
		o.DialTimeout = opts.DialTimeout
	}
	if opts.ReadTimeout > 0 {
		o.ReadTimeout = opts.ReadTimeout
	}
	if opts.WriteTimeout > 0 {
		o.WriteTimeout = opts.WriteTimeout
	}
	return NewRedisKV(redis.NewClient(o)), nil
}

func (r *RedisKV) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return wrapErr(r.client.HSet(ctx, key, args...).Err())
}

func (r *RedisKV) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrapErr(err)
	}
	return fields, nil
}

func (r *RedisKV) HGet(ctx context.Context, key, field string) (string, bool, error) {
	value, err := r.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr(err)
	}
	return value, true, nil
}

func (r *RedisKV) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	n, err := r.client.HIncrBy(ctx, key, field, incr).Result()
	return n, wrapErr(err)
}

func (r *RedisKV) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	if len(values) == 0 {
		return r.LLen(ctx, key)
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	n, err := r.client.RPush(ctx, key, args...).Result()
	return n, wrapErr(err)
}

func (r *RedisKV) LTrim(ctx context.Context, key string, start, stop int64) error {
	return wrapErr(r.client.LTrim(ctx, key, start, stop).Err())
}

func (r *RedisKV) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	values, err := r.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, wrapErr(err)
	}
	return values, nil
}

func (r *RedisKV) LLen(ctx context.Context, key string) (int64, error) {
	n, err := r.client.LLen(ctx, key).Result()
	return n, wrapErr(err)
}

func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return wrapErr(r.client.Set(ctx, key, value, ttl).Err())
}

func (r *RedisKV) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	return ok, wrapErr(err)
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr(err)
	}
	return value, true, nil
}

func (r *RedisKV) MGet(ctx context.Context, keys ...string) ([]*string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	raw, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, wrapErr(err)
	}
	values := make([]*string, len(raw))
	for i, v := range raw {
		if s, ok := v.(string); ok {
			values[i] = &s
		}
	}
	return values, nil
}

func (r *RedisKV) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := r.client.Del(ctx, keys...).Result()
	return n, wrapErr(err)
}

// Scan walks the keyspace with SCAN and removes the duplicates the cursor may report.
func (r *RedisKV) Scan(ctx context.Context, pattern string, count int64) ([]string, error) {
	seen := make(map[string]struct{})
	keys := make([]string, 0)

	iter := r.client.Scan(ctx, 0, pattern, count).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	if err := iter.Err(); err != nil {
		return nil, wrapErr(err)
	}
	return keys, nil
}

func (r *RedisKV) DBSize(ctx context.Context) (int64, error) {
	n, err := r.client.DBSize(ctx).Result()
	return n, wrapErr(err)
}

func (r *RedisKV) Ping(ctx context.Context) error {
	return wrapErr(r.client.Ping(ctx).Err())
}

func (r *RedisKV) FlushDB(ctx context.Context) error {
	return wrapErr(r.client.FlushDB(ctx).Err())
}

func (r *RedisKV) Close() error {
	return r.client.Close()
}

// wrapErr maps WRONGTYPE replies onto the port sentinel so callers can match it.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if strings.HasPrefix(err.Error(), "WRONGTYPE") {
		return fmt.Errorf("%w: %v", ports.ErrWrongType, err)
	}
	return err
}

// Ensure RedisKV implements the KV interface.
var _ ports.KV = (*RedisKV)(nil)
