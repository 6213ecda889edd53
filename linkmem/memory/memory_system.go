package memory

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/linkmem/linkmem/config"
	"github.com/ZanzyTHEbar/linkmem/linkmem/store"
	ports "github.com/ZanzyTHEbar/linkmem/linkmem/store/ports"
	"github.com/rs/zerolog"
)

// MemorySystem is the main entry point for the memory subsystem.
// It owns the store connection and hands out the sibling components, which
// never call each other.
type MemorySystem struct {
	config *config.Config

	Contexts  *ContextStore
	History   *HistoryLog
	Sessions  *SessionRegistry
	Presence  *PresenceTracker
	Snapshots *SnapshotStore
	Admin     *Admin

	kv      ports.KV
	ownsKV  bool
	metrics *MetricsCollector
	logger  zerolog.Logger
}

// MemorySystemConfig holds all configuration for initializing the memory system
type MemorySystemConfig struct {
	Config *config.Config
	Logger zerolog.Logger

	// Optional overrides for testing/customization
	KV     ports.KV     // opened from Config.Store when nil
	Tracer ports.Tracer // built from Config.Telemetry when nil
}

// NewMemorySystem creates a fully configured memory system
func NewMemorySystem(ctx context.Context, cfg MemorySystemConfig) (*MemorySystem, error) {
	if cfg.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Config.Validate(); err != nil {
		return nil, err
	}

	ms := &MemorySystem{
		config: cfg.Config,
		logger: cfg.Logger,
	}
	if cfg.Config.Telemetry.EnableMetrics {
		ms.metrics = NewMetricsCollector()
	}

	factory := store.NewFactory(cfg.Config, cfg.Logger)

	ms.kv = cfg.KV
	if ms.kv == nil {
		kv, err := factory.CreateKV(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		ms.kv = kv
		ms.ownsKV = true
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = factory.CreateTracer()
	}

	opts := Options{
		Logger:          cfg.Logger,
		Tracer:          tracer,
		Metrics:         ms.metrics,
		OpTimeout:       cfg.Config.Store.OpTimeout,
		ScanCount:       cfg.Config.Store.ScanCount,
		ScanConcurrency: cfg.Config.Store.ScanConcurrency,
	}

	if err := ms.initializeComponents(opts); err != nil {
		ms.Close()
		return nil, err
	}

	ms.logger.Info().
		Str("backend", cfg.Config.Store.Backend).
		Int("max_history", cfg.Config.Memory.MaxHistory).
		Int("snapshot_retention", cfg.Config.Snapshot.Retention).
		Bool("archive", ms.Snapshots.Archive() != nil).
		Msg("Memory system initialized")

	return ms, nil
}

func (ms *MemorySystem) initializeComponents(opts Options) error {
	memCfg := &ms.config.Memory

	ms.Contexts = NewContextStore(ms.kv, memCfg, opts)

	history, err := NewHistoryLog(ms.kv, memCfg, opts)
	if err != nil {
		return fmt.Errorf("failed to create history log: %w", err)
	}
	ms.History = history

	ms.Sessions = NewSessionRegistry(ms.kv, memCfg, opts)
	ms.Presence = NewPresenceTracker(ms.kv, memCfg, opts)

	var archive *SnapshotArchive
	if ms.config.Snapshot.ArchiveEnabled {
		archive, err = NewSnapshotArchive(&ms.config.Snapshot, opts.Logger)
		if err != nil {
			return fmt.Errorf("failed to create snapshot archive: %w", err)
		}
	}
	ms.Snapshots = NewSnapshotStore(ms.kv, &ms.config.Snapshot, archive, opts)

	ms.Admin = NewAdmin(ms.kv, &ms.config.Store, ms.Contexts, ms.History, ms.Sessions, ms.Presence, ms.Snapshots, opts)
	return nil
}

// GetMetrics returns current metrics. It is empty when metrics are disabled.
func (ms *MemorySystem) GetMetrics() MetricsSummary {
	return ms.metrics.GetSummary()
}

// Close releases the store connection if the system opened it.
func (ms *MemorySystem) Close() error {
	if ms.ownsKV && ms.kv != nil {
		return ms.kv.Close()
	}
	return nil
}
