package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/linkmem/linkmem"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// StoreConfig stores connection details for the shared key-value engine.
type StoreConfig struct {
	Backend string `mapstructure:"backend"` // "redis" or "memory"
	URL     string `mapstructure:"url"`     // redis://[user:pass@]host:port/db

	// Pool settings
	PoolSize     int           `mapstructure:"pool_size"`      // Max pooled connections
	MinIdleConns int           `mapstructure:"min_idle_conns"` // Warm connections kept open
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// OpTimeout applies to an operation whose context carries no deadline.
	OpTimeout time.Duration `mapstructure:"op_timeout"`

	// Key enumeration
	ScanCount       int `mapstructure:"scan_count"`       // SCAN COUNT hint
	ScanConcurrency int `mapstructure:"scan_concurrency"` // Max concurrent per-key reads after a scan

	AllowFlush bool `mapstructure:"allow_flush"` // FlushAll is refused unless set
}

// MemoryConfig stores the limits of the context, history, session and presence components.
type MemoryConfig struct {
	MaxHistory      int           `mapstructure:"max_history"`       // History list bound per agent
	PresenceTTL     time.Duration `mapstructure:"presence_ttl"`      // Default presence lease
	OnlineStatus    string        `mapstructure:"online_status"`     // Status literal counted as online
	MaxContextBytes int           `mapstructure:"max_context_bytes"` // Encoded context size limit, 0 disables
	GlobalContextID string        `mapstructure:"global_context_id"` // Reserved agent id of the shared context

	// StrictSessionStatus makes UpdateSession refuse writes to the status field.
	StrictSessionStatus bool `mapstructure:"strict_session_status"`

	// HistorySchema is a path to a JSON Schema every history entry must satisfy.
	HistorySchema string `mapstructure:"history_schema"`
}

// SnapshotConfig stores snapshot retention and archive settings.
type SnapshotConfig struct {
	Retention          int    `mapstructure:"retention"`           // Snapshots kept in the store
	ArchiveEnabled     bool   `mapstructure:"archive_enabled"`     // Mirror snapshots to disk
	ArchiveDir         string `mapstructure:"archive_dir"`         // Directory of archived snapshot files
	ArchiveCompression string `mapstructure:"archive_compression"` // "zstd" or "none"
}

// LoggingConfig stores logger settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format string `mapstructure:"format"` // "json" or "console"
}

// TelemetryConfig stores tracing and metrics settings.
type TelemetryConfig struct {
	Tracer        string `mapstructure:"tracer"`         // "zerolog", "otel" or "none"
	EnableMetrics bool   `mapstructure:"enable_metrics"` // Collect per-operation metrics
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := newViper(configPath)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	AppConfig = *cfg
	return cfg, nil
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. store.url becomes STORE_URL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return v
}

func setDefaults(v *viper.Viper) {
	// Store defaults
	v.SetDefault("store.backend", internal.DefaultStoreBackend)
	v.SetDefault("store.url", internal.DefaultRedisURL)
	v.SetDefault("store.pool_size", internal.DefaultPoolSize)
	v.SetDefault("store.min_idle_conns", 0)
	v.SetDefault("store.dial_timeout", "5s")
	v.SetDefault("store.read_timeout", "3s")
	v.SetDefault("store.write_timeout", "3s")
	v.SetDefault("store.op_timeout", internal.DefaultOpTimeout.String())
	v.SetDefault("store.scan_count", internal.DefaultScanCount)
	v.SetDefault("store.scan_concurrency", internal.DefaultScanConcurrency)
	v.SetDefault("store.allow_flush", false) // Destructive, opt-in only

	// Memory defaults
	v.SetDefault("memory.max_history", internal.DefaultMaxHistory)
	v.SetDefault("memory.presence_ttl", internal.DefaultPresenceTTL.String())
	v.SetDefault("memory.online_status", internal.DefaultOnlineStatus)
	v.SetDefault("memory.max_context_bytes", internal.DefaultMaxContextBytes)
	v.SetDefault("memory.global_context_id", internal.DefaultGlobalContextID)
	v.SetDefault("memory.strict_session_status", false)
	v.SetDefault("memory.history_schema", "")

	// Snapshot defaults
	v.SetDefault("snapshot.retention", internal.DefaultSnapshotRetention)
	v.SetDefault("snapshot.archive_enabled", false)
	v.SetDefault("snapshot.archive_dir", internal.DefaultArchiveDir)
	v.SetDefault("snapshot.archive_compression", "zstd")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.tracer", "none")
	v.SetDefault("telemetry.enable_metrics", true)
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; defaults and environment are used.
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the memory components cannot operate with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("store.backend must be \"redis\" or \"memory\", got %q", c.Store.Backend)
	}
	if c.Memory.MaxHistory < 1 {
		return fmt.Errorf("memory.max_history must be positive: %d", c.Memory.MaxHistory)
	}
	if c.Memory.PresenceTTL <= 0 {
		return fmt.Errorf("memory.presence_ttl must be positive: %s", c.Memory.PresenceTTL)
	}
	if c.Snapshot.Retention < 1 {
		return fmt.Errorf("snapshot.retention must be positive: %d", c.Snapshot.Retention)
	}
	switch c.Snapshot.ArchiveCompression {
	case "zstd", "none":
	default:
		return fmt.Errorf("snapshot.archive_compression must be \"zstd\" or \"none\", got %q", c.Snapshot.ArchiveCompression)
	}
	switch c.Telemetry.Tracer {
	case "zerolog", "otel", "none":
	default:
		return fmt.Errorf("telemetry.tracer must be \"zerolog\", \"otel\" or \"none\", got %q", c.Telemetry.Tracer)
	}
	return nil
}
