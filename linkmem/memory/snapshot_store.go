package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	internal "github.com/ZanzyTHEbar/linkmem/linkmem"
	"github.com/ZanzyTHEbar/linkmem/linkmem/config"
	ports "github.com/ZanzyTHEbar/linkmem/linkmem/store/ports"
)

const (
	snapshotPrefix = "snapshot:"

	// maxKeyAttempts bounds the search for a free timestamp key.
	maxKeyAttempts = 1000
)

// SnapshotStore keeps full-state captures under snapshot:<timestamp> and
// retains only the most recent ones. Timestamps are fixed width UTC, so the
// lexical order of keys is their chronological order.
//
// Creating a snapshot is a write followed by a scan and a prune. Two
// concurrent creators may each prune; the count still converges to the
// retention limit.
type SnapshotStore struct {
	base
	retention int
	archive   *SnapshotArchive
}

// NewSnapshotStore creates a snapshot store. archive may be nil.
func NewSnapshotStore(kv ports.KV, cfg *config.SnapshotConfig, archive *SnapshotArchive, opts Options) *SnapshotStore {
	retention := cfg.Retention
	if retention <= 0 {
		retention = internal.DefaultSnapshotRetention
	}
	return &SnapshotStore{
		base:      newBase(kv, "snapshot", opts),
		retention: retention,
		archive:   archive,
	}
}

func snapshotKey(ts string) string {
	return snapshotPrefix + ts
}

// CreateSnapshot stores data under a new timestamp key, prunes the oldest
// snapshots beyond retention and returns the timestamp.
func (s *SnapshotStore) CreateSnapshot(ctx context.Context, data any) (ts string, err error) {
	ctx, end := s.begin(ctx, "create", nil)
	defer end(&err)

	encoded, err := encodeJSON(data)
	if err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}

	at := s.now().UTC().Truncate(time.Microsecond)
	for attempt := 0; ; attempt++ {
		if attempt == maxKeyAttempts {
			return "", fmt.Errorf("snapshot: no free key after %d attempts", maxKeyAttempts)
		}
		ts = FormatTimestamp(at)
		written, err := s.kv.SetNX(ctx, snapshotKey(ts), encoded, 0)
		if err != nil {
			return "", fmt.Errorf("write snapshot %s: %w", ts, err)
		}
		if written {
			break
		}
		at = at.Add(time.Microsecond)
	}

	if err = s.prune(ctx); err != nil {
		return ts, err
	}

	if s.archive != nil {
		if err := s.archive.Write(ts, []byte(encoded)); err != nil {
			s.logger.Error().Err(err).Str("timestamp", ts).Msg("Failed to archive snapshot")
		}
	}
	return ts, nil
}

// GetLatestSnapshot returns the most recent snapshot. When the store holds
// none and an archive is configured, the newest archived snapshot is used.
func (s *SnapshotStore) GetLatestSnapshot(ctx context.Context) (data any, found bool, err error) {
	ctx, end := s.begin(ctx, "latest", nil)
	defer end(&err)

	timestamps, err := s.timestamps(ctx)
	if err != nil {
		return nil, false, err
	}
	// A key can be pruned between the scan and the read; fall back to the next newest.
	for i := len(timestamps) - 1; i >= 0; i-- {
		data, found, err = s.read(ctx, timestamps[i])
		if err != nil || found {
			return data, found, err
		}
	}

	if s.archive == nil {
		return nil, false, nil
	}
	ts, raw, found, err := s.archive.Latest()
	if err != nil || !found {
		return nil, false, err
	}
	s.logger.Info().Str("timestamp", ts).Msg("Loaded snapshot from archive")
	return Decode(string(raw)), true, nil
}

// GetSnapshot returns the snapshot stored under ts, falling back to the archive.
func (s *SnapshotStore) GetSnapshot(ctx context.Context, ts string) (data any, found bool, err error) {
	ctx, end := s.begin(ctx, "get", map[string]any{"timestamp": ts})
	defer end(&err)

	if _, err = ParseTimestamp(ts); err != nil {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidTimestamp, ts)
	}
	data, found, err = s.read(ctx, ts)
	if err != nil || found || s.archive == nil {
		return data, found, err
	}
	raw, found, err := s.archive.Read(ts)
	if err != nil || !found {
		return nil, false, err
	}
	return Decode(string(raw)), true, nil
}

// ListSnapshots returns the timestamps of stored snapshots, oldest first.
func (s *SnapshotStore) ListSnapshots(ctx context.Context) (timestamps []string, err error) {
	ctx, end := s.begin(ctx, "list", nil)
	defer end(&err)

	return s.timestamps(ctx)
}

// Archive returns the configured archive, or nil.
func (s *SnapshotStore) Archive() *SnapshotArchive {
	return s.archive
}

func (s *SnapshotStore) timestamps(ctx context.Context) ([]string, error) {
	timestamps, err := s.scanIDs(ctx, snapshotPrefix)
	if err != nil {
		return nil, fmt.Errorf("scan snapshots: %w", err)
	}
	sort.Strings(timestamps)
	return timestamps, nil
}

func (s *SnapshotStore) read(ctx context.Context, ts string) (any, bool, error) {
	raw, ok, err := s.kv.Get(ctx, snapshotKey(ts))
	if err != nil {
		return nil, false, fmt.Errorf("read snapshot %s: %w", ts, err)
	}
	if !ok {
		return nil, false, nil
	}
	var data any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		s.logger.Warn().Err(err).Str("timestamp", ts).Msg("Snapshot is not valid JSON, returning raw value")
		return raw, true, nil
	}
	return data, true, nil
}

// prune deletes the lexically smallest keys until retention remain.
func (s *SnapshotStore) prune(ctx context.Context) error {
	timestamps, err := s.timestamps(ctx)
	if err != nil {
		return err
	}
	if len(timestamps) <= s.retention {
		return nil
	}
	stale := timestamps[:len(timestamps)-s.retention]
	keys := make([]string, len(stale))
	for i, ts := range stale {
		keys[i] = snapshotKey(ts)
	}
	if _, err := s.kv.Del(ctx, keys...); err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	s.logger.Debug().Int("deleted", len(keys)).Msg("Pruned old snapshots")
	return nil
}
