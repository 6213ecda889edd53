// Package linkmem holds application-wide constants shared by the config,
// store and memory packages.
package linkmem

import (
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultAppName = "linkmem"

	DefaultStoreBackend = "redis"
	DefaultRedisURL     = "redis://localhost:6379/0"

	// DefaultMaxHistory bounds every agent's history list.
	DefaultMaxHistory = 1000
	// DefaultPresenceTTL is the lease length written by SetPresence.
	DefaultPresenceTTL = 60 * time.Second
	// DefaultSnapshotRetention is the number of snapshots kept in the store.
	DefaultSnapshotRetention = 10

	DefaultOnlineStatus    = "online"
	OfflineStatus          = "offline"
	DefaultGlobalContextID = "__global__"
	DefaultMaxContextBytes = 1_000_000

	DefaultOpTimeout       = 5 * time.Second
	DefaultPoolSize        = 50
	DefaultScanCount       = 100
	DefaultScanConcurrency = 8
)

var (
	DefaultConfigPath = filepath.Join(userConfigDir(), DefaultAppName)
	DefaultArchiveDir = filepath.Join(userCacheDir(), DefaultAppName, "snapshots")
)

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return "."
}

func userCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir
	}
	return "."
}
