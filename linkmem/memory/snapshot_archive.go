package memory

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/linkmem/linkmem/config"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
)

const (
	archiveFilePrefix = "snapshot_"
	archiveExtJSON    = ".json"
	archiveExtZstd    = ".json.zst"
)

// The encoder and decoder are reused across calls; both are safe for
// concurrent use.
var (
	archiveEncoder *zstd.Encoder
	archiveDecoder *zstd.Decoder
)

func init() {
	var err error
	archiveEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("memory: zstd encoder initialization failed: " + err.Error())
	}
	archiveDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("memory: zstd decoder initialization failed: " + err.Error())
	}
}

// ArchiveEntry describes one archived snapshot file.
type ArchiveEntry struct {
	Timestamp string `json:"timestamp"`
	File      string `json:"file"`
	SizeBytes int64  `json:"size_bytes"`
}

// SnapshotArchive mirrors snapshots to files in a local directory, one file
// per snapshot, keeping the same number of files as the store keeps keys.
type SnapshotArchive struct {
	dir       string
	compress  bool
	retention int
	logger    zerolog.Logger
}

// NewSnapshotArchive creates the archive directory if needed.
func NewSnapshotArchive(cfg *config.SnapshotConfig, logger zerolog.Logger) (*SnapshotArchive, error) {
	if cfg.ArchiveDir == "" {
		return nil, fmt.Errorf("snapshot archive directory is required")
	}
	if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot archive dir: %w", err)
	}
	return &SnapshotArchive{
		dir:       cfg.ArchiveDir,
		compress:  cfg.ArchiveCompression != "none",
		retention: cfg.Retention,
		logger:    logger.With().Str("component", "snapshot_archive").Logger(),
	}, nil
}

// Dir returns the archive directory.
func (a *SnapshotArchive) Dir() string {
	return a.dir
}

// fileStem maps a timestamp to a file name stem; colons are not portable in
// file names.
func fileStem(ts string) string {
	return archiveFilePrefix + strings.ReplaceAll(ts, ":", "-")
}

// timestampFromStem reverses fileStem for TimestampLayout timestamps.
func timestampFromStem(stem string) string {
	ts := strings.TrimPrefix(stem, archiveFilePrefix)
	date, clock, ok := strings.Cut(ts, "T")
	if !ok {
		return ts
	}
	return date + "T" + strings.Replace(strings.Replace(clock, "-", ":", 1), "-", ":", 1)
}

// Write stores data under ts and prunes the oldest files beyond retention.
// The file is written to a temporary name and renamed into place.
func (a *SnapshotArchive) Write(ts string, data []byte) error {
	name := fileStem(ts) + archiveExtJSON
	payload := data
	if a.compress {
		name = fileStem(ts) + archiveExtZstd
		payload = archiveEncoder.EncodeAll(data, nil)
	}

	tmp, err := os.CreateTemp(a.dir, ".tmp-"+archiveFilePrefix+"*")
	if err != nil {
		return fmt.Errorf("archive snapshot %s: %w", ts, err)
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("archive snapshot %s: %w", ts, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("archive snapshot %s: %w", ts, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(a.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("archive snapshot %s: %w", ts, err)
	}

	a.prune()
	return nil
}

// List returns the archived snapshots, oldest first.
func (a *SnapshotArchive) List() ([]ArchiveEntry, error) {
	dirEntries, err := os.ReadDir(a.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []ArchiveEntry{}, nil
		}
		return nil, fmt.Errorf("list snapshot archive: %w", err)
	}

	entries := make([]ArchiveEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasPrefix(name, archiveFilePrefix) {
			continue
		}
		var stem string
		switch {
		case strings.HasSuffix(name, archiveExtZstd):
			stem = strings.TrimSuffix(name, archiveExtZstd)
		case strings.HasSuffix(name, archiveExtJSON):
			stem = strings.TrimSuffix(name, archiveExtJSON)
		default:
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, ArchiveEntry{
			Timestamp: timestampFromStem(stem),
			File:      name,
			SizeBytes: info.Size(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp < entries[j].Timestamp })
	return entries, nil
}

// Read returns the JSON text archived under ts. Only timestamps in
// TimestampLayout name archive files; anything else is ErrInvalidTimestamp.
func (a *SnapshotArchive) Read(ts string) ([]byte, bool, error) {
	if _, err := time.Parse(TimestampLayout, ts); err != nil {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidTimestamp, ts)
	}
	stem := fileStem(ts)
	for _, ext := range []string{archiveExtZstd, archiveExtJSON} {
		name := stem + ext
		if filepath.Dir(filepath.Join(a.dir, name)) != filepath.Clean(a.dir) {
			return nil, false, fmt.Errorf("%w: %q", ErrInvalidTimestamp, ts)
		}
		data, err := a.readFile(name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return data, true, nil
	}
	return nil, false, nil
}

// Latest returns the newest archived snapshot and its timestamp.
func (a *SnapshotArchive) Latest() (ts string, data []byte, found bool, err error) {
	entries, err := a.List()
	if err != nil {
		return "", nil, false, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		data, err := a.readFile(entries[i].File)
		if err != nil {
			a.logger.Warn().Err(err).Str("file", entries[i].File).Msg("Skipping unreadable archived snapshot")
			continue
		}
		return entries[i].Timestamp, data, true, nil
	}
	return "", nil, false, nil
}

func (a *SnapshotArchive) readFile(name string) ([]byte, error) {
	raw, err := os.ReadFile(filepath.Join(a.dir, name))
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(name, archiveExtZstd) {
		return raw, nil
	}
	data, err := archiveDecoder.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress %s: %w", name, err)
	}
	return data, nil
}

// prune removes the oldest files beyond retention. Failures are logged.
func (a *SnapshotArchive) prune() {
	if a.retention <= 0 {
		return
	}
	entries, err := a.List()
	if err != nil {
		a.logger.Error().Err(err).Msg("Failed to list snapshot archive for cleanup")
		return
	}
	if len(entries) <= a.retention {
		return
	}
	stale := entries[:len(entries)-a.retention]
	for _, e := range stale {
		if err := os.Remove(filepath.Join(a.dir, e.File)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			a.logger.Error().Err(err).Str("file", e.File).Msg("Failed to delete old snapshot file")
		}
	}
	a.logger.Debug().Int("deleted", len(stale)).Msg("Cleaned up old snapshot files")
}
