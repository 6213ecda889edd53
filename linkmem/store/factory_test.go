package store

import (
	"context"
	"testing"

	"github.com/ZanzyTHEbar/linkmem/linkmem/config"
	"github.com/ZanzyTHEbar/linkmem/linkmem/store/adapters"
	ports "github.com/ZanzyTHEbar/linkmem/linkmem/store/ports"
	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	return cfg
}

func TestCreateKVMemory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "memory"

	kv, err := NewFactory(cfg, zerolog.Nop()).CreateKV(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &adapters.MemoryKV{}, kv)
}

func TestCreateKVRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Store.URL = "redis://" + mr.Addr() + "/0"

	kv, err := NewFactory(cfg, zerolog.Nop()).CreateKV(context.Background())
	require.NoError(t, err)
	defer kv.Close()

	assert.IsType(t, &adapters.RedisKV{}, kv)
	require.NoError(t, kv.Set(context.Background(), "k", "v", 0))
	assert.True(t, mr.Exists("k"))
}

func TestCreateKVRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(t)
	cfg.Store.URL = "redis://" + addr + "/0"

	kv, err := NewFactory(cfg, zerolog.Nop()).CreateKV(context.Background())
	assert.Error(t, err)
	assert.Nil(t, kv)
}

func TestCreateKVUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "etcd"

	_, err := NewFactory(cfg, zerolog.Nop()).CreateKV(context.Background())
	assert.Error(t, err)
}

func TestCreateTracer(t *testing.T) {
	cfg := testConfig(t)
	f := NewFactory(cfg, zerolog.Nop())

	cfg.Telemetry.Tracer = "none"
	assert.IsType(t, ports.NoopTracer{}, f.CreateTracer())

	cfg.Telemetry.Tracer = "zerolog"
	assert.IsType(t, &adapters.ZerologTracer{}, f.CreateTracer())

	cfg.Telemetry.Tracer = "otel"
	assert.IsType(t, &adapters.OTelTracer{}, f.CreateTracer())
}
