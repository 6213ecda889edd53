package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	internal "github.com/ZanzyTHEbar/linkmem/linkmem"
	"github.com/ZanzyTHEbar/linkmem/linkmem/config"
	"github.com/ZanzyTHEbar/linkmem/linkmem/store/adapters"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
)

var testEpoch = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

// testClock is a manually advanced clock shared by the components and the
// in-memory KV of a test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testEpoch}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	kv      *adapters.MemoryKV
	clock   *testClock
	opts    Options
	metrics *MetricsCollector
	cfg     *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := newTestClock()
	metrics := NewMetricsCollector()
	return &testEnv{
		kv:      adapters.NewMemoryKV(adapters.WithClock(clock.Now)),
		clock:   clock,
		metrics: metrics,
		cfg:     testConfig(),
		opts: Options{
			Logger:    zerolog.Nop(),
			Metrics:   metrics,
			OpTimeout: time.Second,
			Now:       clock.Now,
		},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Store: config.StoreConfig{
			Backend:         "memory",
			URL:             internal.DefaultRedisURL,
			OpTimeout:       time.Second,
			ScanCount:       internal.DefaultScanCount,
			ScanConcurrency: internal.DefaultScanConcurrency,
		},
		Memory: config.MemoryConfig{
			MaxHistory:      internal.DefaultMaxHistory,
			PresenceTTL:     internal.DefaultPresenceTTL,
			OnlineStatus:    internal.DefaultOnlineStatus,
			MaxContextBytes: internal.DefaultMaxContextBytes,
			GlobalContextID: internal.DefaultGlobalContextID,
		},
		Snapshot: config.SnapshotConfig{
			Retention:          internal.DefaultSnapshotRetention,
			ArchiveCompression: "zstd",
		},
		Logging:   config.LoggingConfig{Level: "info", Format: "json"},
		Telemetry: config.TelemetryConfig{Tracer: "none", EnableMetrics: true},
	}
}

// mockKV delegates to an in-memory KV except for the methods a test
// programs through the embedded mock.
type mockKV struct {
	*adapters.MemoryKV
	mock.Mock
	fail map[string]bool
}

func newMockKV() *mockKV {
	return &mockKV{MemoryKV: adapters.NewMemoryKV(), fail: make(map[string]bool)}
}

// failOn routes method through the mock, returning err.
func (m *mockKV) failOn(method string, err error) {
	m.fail[method] = true
	m.On(method, mock.Anything).Return(err)
}

func (m *mockKV) HSet(ctx context.Context, key string, fields map[string]string) error {
	if m.fail["HSet"] {
		return m.Called(ctx).Error(0)
	}
	return m.MemoryKV.HSet(ctx, key, fields)
}

func (m *mockKV) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if m.fail["HGetAll"] {
		return nil, m.Called(ctx).Error(0)
	}
	return m.MemoryKV.HGetAll(ctx, key)
}

func (m *mockKV) Get(ctx context.Context, key string) (string, bool, error) {
	if m.fail["Get"] {
		return "", false, m.Called(ctx).Error(0)
	}
	return m.MemoryKV.Get(ctx, key)
}

func (m *mockKV) LTrim(ctx context.Context, key string, start, stop int64) error {
	if m.fail["LTrim"] {
		return m.Called(ctx).Error(0)
	}
	return m.MemoryKV.LTrim(ctx, key, start, stop)
}

func (m *mockKV) Scan(ctx context.Context, pattern string, count int64) ([]string, error) {
	if m.fail["Scan"] {
		return nil, m.Called(ctx).Error(0)
	}
	return m.MemoryKV.Scan(ctx, pattern, count)
}

func (m *mockKV) Ping(ctx context.Context) error {
	if m.fail["Ping"] {
		return m.Called(ctx).Error(0)
	}
	return m.MemoryKV.Ping(ctx)
}
