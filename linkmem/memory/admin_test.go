package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type adminFixture struct {
	env       *testEnv
	admin     *Admin
	contexts  *ContextStore
	histories *HistoryLog
	sessions  *SessionRegistry
	presence  *PresenceTracker
	snapshots *SnapshotStore
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	env := newTestEnv(t)
	f := &adminFixture{
		env:       env,
		contexts:  newContextStore(env),
		histories: newHistoryLog(t, env),
		sessions:  NewSessionRegistry(env.kv, &env.cfg.Memory, env.opts),
		presence:  newPresenceTracker(env),
		snapshots: newSnapshotStore(env, nil),
	}
	f.admin = NewAdmin(env.kv, &env.cfg.Store, f.contexts, f.histories, f.sessions, f.presence, f.snapshots, env.opts)
	return f
}

func TestAdminPing(t *testing.T) {
	f := newAdminFixture(t)
	assert.NoError(t, f.admin.Ping(context.Background()))
}

func TestAdminPingFailure(t *testing.T) {
	f := newAdminFixture(t)
	kv := newMockKV()
	kv.failOn("Ping", errors.New("NOAUTH Authentication required"))
	admin := NewAdmin(kv, &f.env.cfg.Store, f.contexts, f.histories, f.sessions, f.presence, f.snapshots, f.env.opts)

	assert.ErrorContains(t, admin.Ping(context.Background()), "NOAUTH")
}

func TestAdminGetStats(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	require.NoError(t, f.contexts.SetContext(ctx, "agentA", map[string]any{"k": "v"}))
	require.NoError(t, f.contexts.SetContext(ctx, "agentB", map[string]any{"k": "v"}))
	require.NoError(t, f.contexts.UpdateGlobalContext(ctx, map[string]any{"k": "v"}))
	require.NoError(t, f.histories.AppendHistory(ctx, "agentA", "hello"))
	_, err := f.sessions.CreateSession(ctx, "s1", nil)
	require.NoError(t, err)
	_, err = f.sessions.CreateSession(ctx, "s2", nil)
	require.NoError(t, err)
	require.NoError(t, f.sessions.CloseSession(ctx, "s2"))
	require.NoError(t, f.presence.SetPresence(ctx, "agentA", "", 0))
	require.NoError(t, f.presence.SetPresence(ctx, "agentB", "", 0))
	require.NoError(t, f.presence.SetPresence(ctx, "agentC", "busy", 0))
	_, err = f.snapshots.CreateSnapshot(ctx, map[string]any{"k": "v"})
	require.NoError(t, err)

	stats, err := f.admin.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Stats{
		TotalKeys:         10,
		AgentsWithContext: 2,
		AgentsWithHistory: 1,
		ActiveSessions:    1,
		OnlineAgents:      2,
		Snapshots:         1,
	}, stats)
}

func TestAdminGetStatsEmpty(t *testing.T) {
	f := newAdminFixture(t)

	stats, err := f.admin.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Stats{}, stats)
}

func TestAdminFlushAllGuards(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	require.NoError(t, f.contexts.SetContext(ctx, "agentA", map[string]any{"k": "v"}))

	assert.ErrorIs(t, f.admin.FlushAll(ctx, FlushConfirmation), ErrFlushDisabled)

	f.env.cfg.Store.AllowFlush = true
	admin := NewAdmin(f.env.kv, &f.env.cfg.Store, f.contexts, f.histories, f.sessions, f.presence, f.snapshots, f.env.opts)

	assert.ErrorIs(t, admin.FlushAll(ctx, ""), ErrFlushNotConfirmed)
	assert.ErrorIs(t, admin.FlushAll(ctx, "yes"), ErrFlushNotConfirmed)

	size, err := f.env.kv.DBSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size, "refused flushes must not touch data")

	require.NoError(t, admin.FlushAll(ctx, FlushConfirmation))
	size, err = f.env.kv.DBSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}
