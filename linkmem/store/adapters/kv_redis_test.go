package adapters

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisKV(t *testing.T) (*RedisKV, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	kv := NewRedisKV(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = kv.Close() })
	return kv, mr
}

func TestRedisKVContract(t *testing.T) {
	runKVContract(t, func(t *testing.T) kvHarness {
		kv, mr := newMiniredisKV(t)
		return kvHarness{kv: kv, advance: mr.FastForward}
	})
}

func TestRedisKVFromURL(t *testing.T) {
	mr := miniredis.RunT(t)

	kv, err := NewRedisKVFromURL("redis://"+mr.Addr()+"/0", RedisOptions{
		PoolSize:    4,
		DialTimeout: time.Second,
	})
	require.NoError(t, err)
	defer kv.Close()

	ctx := context.Background()
	require.NoError(t, kv.Ping(ctx))
	require.NoError(t, kv.Set(ctx, "presence:a", "online", time.Minute))
	got, err := mr.Get("presence:a")
	require.NoError(t, err)
	assert.Equal(t, "online", got)
	assert.Equal(t, time.Minute, mr.TTL("presence:a"))
}

func TestRedisKVFromURLInvalid(t *testing.T) {
	kv, err := NewRedisKVFromURL("http://not-redis", RedisOptions{})
	assert.Error(t, err)
	assert.Nil(t, kv)
}

func TestRedisKVEmptyArguments(t *testing.T) {
	kv, mr := newMiniredisKV(t)
	ctx := context.Background()

	require.NoError(t, kv.HSet(ctx, "context:a", map[string]string{}))
	assert.False(t, mr.Exists("context:a"))

	n, err := kv.Del(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	values, err := kv.MGet(ctx)
	require.NoError(t, err)
	assert.Empty(t, values)

	length, err := kv.RPush(ctx, "history:a")
	require.NoError(t, err)
	assert.Zero(t, length)
}

func TestRedisKVServerDown(t *testing.T) {
	kv, mr := newMiniredisKV(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, kv.Ping(ctx))
}
