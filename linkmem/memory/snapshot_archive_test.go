package memory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/linkmem/linkmem/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newArchive(t *testing.T, compression string, retention int) *SnapshotArchive {
	t.Helper()
	a, err := NewSnapshotArchive(&config.SnapshotConfig{
		Retention:          retention,
		ArchiveDir:         filepath.Join(t.TempDir(), "snapshots"),
		ArchiveCompression: compression,
	}, zerolog.Nop())
	require.NoError(t, err)
	return a
}

func TestArchiveRoundTrip(t *testing.T) {
	for _, compression := range []string{"zstd", "none"} {
		t.Run(compression, func(t *testing.T) {
			a := newArchive(t, compression, 5)
			payload := []byte(`{"contexts":{"agentA":{"goal":"summarize"}}}`)

			require.NoError(t, a.Write("2025-03-14T09:26:53.000000Z", payload))

			data, found, err := a.Read("2025-03-14T09:26:53.000000Z")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, payload, data)

			_, found, err = a.Read("2025-03-14T09:26:54.000000Z")
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestArchivePlainFilesAreReadableJSON(t *testing.T) {
	a := newArchive(t, "none", 5)
	require.NoError(t, a.Write("2025-03-14T09:26:53.000000Z", []byte(`{"a":1}`)))

	raw, err := os.ReadFile(filepath.Join(a.Dir(), "snapshot_2025-03-14T09-26-53.000000Z.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(raw))
}

func TestArchiveRetentionAndLatest(t *testing.T) {
	a := newArchive(t, "zstd", 2)
	stamps := []string{
		"2025-03-14T09:26:51.000000Z",
		"2025-03-14T09:26:53.000000Z",
		"2025-03-14T09:26:52.000000Z",
	}
	for _, ts := range stamps {
		require.NoError(t, a.Write(ts, []byte(`"`+ts+`"`)))
	}

	entries, err := a.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "2025-03-14T09:26:52.000000Z", entries[0].Timestamp)
	assert.Equal(t, "2025-03-14T09:26:53.000000Z", entries[1].Timestamp)
	assert.Positive(t, entries[1].SizeBytes)

	ts, data, found, err := a.Latest()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2025-03-14T09:26:53.000000Z", ts)
	assert.Equal(t, `"2025-03-14T09:26:53.000000Z"`, string(data))
}

func TestArchiveLatestSkipsCorruptFiles(t *testing.T) {
	a := newArchive(t, "zstd", 5)
	require.NoError(t, a.Write("2025-03-14T09:26:51.000000Z", []byte(`"good"`)))
	require.NoError(t, os.WriteFile(
		filepath.Join(a.Dir(), "snapshot_2025-03-14T09-26-59.000000Z.json.zst"),
		[]byte("not zstd"), 0o644))

	ts, data, found, err := a.Latest()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2025-03-14T09:26:51.000000Z", ts)
	assert.Equal(t, `"good"`, string(data))
}

func TestArchiveIgnoresForeignFiles(t *testing.T) {
	a := newArchive(t, "zstd", 5)
	require.NoError(t, os.WriteFile(filepath.Join(a.Dir(), "README.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(a.Dir(), "snapshot_dir"), 0o755))

	entries, err := a.List()
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, _, found, err := a.Latest()
	require.NoError(t, err)
	assert.False(t, found)
}

func TestArchiveRequiresDir(t *testing.T) {
	_, err := NewSnapshotArchive(&config.SnapshotConfig{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestTimestampFromStem(t *testing.T) {
	ts := "2025-03-14T09:26:53.000000Z"
	assert.Equal(t, ts, timestampFromStem(fileStem(ts)))
}

func TestArchiveReadStaysInsideDir(t *testing.T) {
	a := newArchive(t, "none", 5)
	parent := filepath.Dir(a.Dir())
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.json"), []byte(`{"token":"hunter2"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "snapshot_secret.json"), []byte(`{"token":"hunter2"}`), 0o644))

	for _, ts := range []string{"../secret", "../../secret", "2025-03-14T09-26-53.000000Z", "/etc/passwd"} {
		data, found, err := a.Read(ts)
		assert.ErrorIs(t, err, ErrInvalidTimestamp, ts)
		assert.False(t, found, ts)
		assert.Nil(t, data, ts)
	}
}
