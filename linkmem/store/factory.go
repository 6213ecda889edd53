// Package store wires the key-value and tracing adapters selected by configuration.
package store

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/linkmem/linkmem/config"
	"github.com/ZanzyTHEbar/linkmem/linkmem/store/adapters"
	ports "github.com/ZanzyTHEbar/linkmem/linkmem/store/ports"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Factory creates store components from configuration.
type Factory struct {
	cfg    *config.Config
	logger zerolog.Logger

	// TracerProvider backs the "otel" tracer. Nil uses the global provider.
	TracerProvider trace.TracerProvider
}

// NewFactory creates a new store factory.
func NewFactory(cfg *config.Config, logger zerolog.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateKV opens the configured backend. A redis backend is pinged before it
// is returned so a bad URL fails here instead of on the first operation.
func (f *Factory) CreateKV(ctx context.Context) (ports.KV, error) {
	switch f.cfg.Store.Backend {
	case "memory":
		f.logger.Warn().Msg("Using in-process memory backend; state is not shared between processes")
		return adapters.NewMemoryKV(), nil
	case "redis", "":
		kv, err := adapters.NewRedisKVFromURL(f.cfg.Store.URL, adapters.RedisOptions{
			PoolSize:     f.cfg.Store.PoolSize,
			MinIdleConns: f.cfg.Store.MinIdleConns,
			DialTimeout:  f.cfg.Store.DialTimeout,
			ReadTimeout:  f.cfg.Store.ReadTimeout,
			WriteTimeout: f.cfg.Store.WriteTimeout,
		})
		if err != nil {
			return nil, err
		}

		pingCtx := ctx
		if _, ok := ctx.Deadline(); !ok && f.cfg.Store.OpTimeout > 0 {
			var cancel context.CancelFunc
			pingCtx, cancel = context.WithTimeout(ctx, f.cfg.Store.OpTimeout)
			defer cancel()
		}
		if err := kv.Ping(pingCtx); err != nil {
			_ = kv.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		f.logger.Info().Int("pool_size", f.cfg.Store.PoolSize).Msg("Connected to redis")
		return kv, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", f.cfg.Store.Backend)
	}
}

// CreateTracer creates a tracer adapter from config.
func (f *Factory) CreateTracer() ports.Tracer {
	switch f.cfg.Telemetry.Tracer {
	case "zerolog":
		return adapters.NewZerologTracer(f.logger)
	case "otel":
		return adapters.NewOTelTracer(f.TracerProvider)
	default:
		return ports.NoopTracer{}
	}
}
