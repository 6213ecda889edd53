package adapters

import (
	"context"
	"sort"
	"strconv"
	"testing"
	"time"

	ports "github.com/ZanzyTHEbar/linkmem/linkmem/store/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// kvHarness bundles a KV with a way to move its notion of time forward.
type kvHarness struct {
	kv      ports.KV
	advance func(d time.Duration)
}

// runKVContract exercises the behavior every KV adapter must share.
func runKVContract(t *testing.T, newHarness func(t *testing.T) kvHarness) {
	ctx := context.Background()

	t.Run("HashSetMergesFields", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.kv.HSet(ctx, "context:a", map[string]string{"goal": "x", "step": "1"}))
		require.NoError(t, h.kv.HSet(ctx, "context:a", map[string]string{"step": "2"}))

		fields, err := h.kv.HGetAll(ctx, "context:a")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"goal": "x", "step": "2"}, fields)

		v, ok, err := h.kv.HGet(ctx, "context:a", "goal")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "x", v)

		_, ok, err = h.kv.HGet(ctx, "context:a", "missing")
		require.NoError(t, err)
		assert.False(t, ok)

		empty, err := h.kv.HGetAll(ctx, "context:none")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("HashIncrement", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.kv.HSet(ctx, "session:s", map[string]string{"message_count": "0"}))
		n, err := h.kv.HIncrBy(ctx, "session:s", "message_count", 3)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		n, err = h.kv.HIncrBy(ctx, "session:s", "message_count", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)
	})

	t.Run("ListPushTrimRange", func(t *testing.T) {
		h := newHarness(t)
		for i := 1; i <= 7; i++ {
			n, err := h.kv.RPush(ctx, "history:a", strconv.Itoa(i))
			require.NoError(t, err)
			assert.Equal(t, int64(i), n)
		}
		require.NoError(t, h.kv.LTrim(ctx, "history:a", -5, -1))

		all, err := h.kv.LRange(ctx, "history:a", 0, -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"3", "4", "5", "6", "7"}, all)

		tail, err := h.kv.LRange(ctx, "history:a", -2, -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"6", "7"}, tail)

		over, err := h.kv.LRange(ctx, "history:a", -100, -1)
		require.NoError(t, err)
		assert.Len(t, over, 5)

		n, err := h.kv.LLen(ctx, "history:a")
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)

		missing, err := h.kv.LRange(ctx, "history:none", 0, -1)
		require.NoError(t, err)
		assert.Empty(t, missing)
	})

	t.Run("StringExpiry", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.kv.Set(ctx, "presence:a", "online", 2*time.Second))
		require.NoError(t, h.kv.Set(ctx, "presence:b", "online", 0))

		v, ok, err := h.kv.Get(ctx, "presence:a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "online", v)

		h.advance(3 * time.Second)

		_, ok, err = h.kv.Get(ctx, "presence:a")
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = h.kv.Get(ctx, "presence:b")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("SetNX", func(t *testing.T) {
		h := newHarness(t)
		wrote, err := h.kv.SetNX(ctx, "snapshot:1", "first", 0)
		require.NoError(t, err)
		assert.True(t, wrote)

		wrote, err = h.kv.SetNX(ctx, "snapshot:1", "second", 0)
		require.NoError(t, err)
		assert.False(t, wrote)

		v, _, err := h.kv.Get(ctx, "snapshot:1")
		require.NoError(t, err)
		assert.Equal(t, "first", v)
	})

	t.Run("MGet", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.kv.Set(ctx, "presence:a", "online", 0))
		require.NoError(t, h.kv.Set(ctx, "presence:c", "busy", 0))

		values, err := h.kv.MGet(ctx, "presence:a", "presence:b", "presence:c")
		require.NoError(t, err)
		require.Len(t, values, 3)
		require.NotNil(t, values[0])
		assert.Equal(t, "online", *values[0])
		assert.Nil(t, values[1])
		require.NotNil(t, values[2])
		assert.Equal(t, "busy", *values[2])
	})

	t.Run("ScanDelDBSize", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.kv.Set(ctx, "presence:a", "online", 0))
		require.NoError(t, h.kv.Set(ctx, "presence:b", "online", 0))
		require.NoError(t, h.kv.HSet(ctx, "context:a", map[string]string{"k": "v"}))
		_, err := h.kv.RPush(ctx, "history:a", "m")
		require.NoError(t, err)

		keys, err := h.kv.Scan(ctx, "presence:*", 10)
		require.NoError(t, err)
		sort.Strings(keys)
		assert.Equal(t, []string{"presence:a", "presence:b"}, keys)

		size, err := h.kv.DBSize(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(4), size)

		removed, err := h.kv.Del(ctx, "presence:a", "presence:zz")
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		removed, err = h.kv.Del(ctx, "presence:a")
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("WrongType", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.kv.Set(ctx, "context:a", "plain", 0))
		_, err := h.kv.HGetAll(ctx, "context:a")
		assert.ErrorIs(t, err, ports.ErrWrongType)
	})

	t.Run("PingFlush", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.kv.Ping(ctx))
		require.NoError(t, h.kv.Set(ctx, "k", "v", 0))
		require.NoError(t, h.kv.FlushDB(ctx))
		size, err := h.kv.DBSize(ctx)
		require.NoError(t, err)
		assert.Zero(t, size)
	})
}
