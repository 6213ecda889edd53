package memory

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/linkmem/linkmem/config"
	ports "github.com/ZanzyTHEbar/linkmem/linkmem/store/ports"
	"github.com/sourcegraph/conc/pool"
)

// FlushConfirmation must be passed to FlushAll to erase the store.
const FlushConfirmation = "FLUSH-ALL-LINKMEM-DATA"

// Stats are point-in-time counts across the key namespaces.
type Stats struct {
	TotalKeys         int64 `json:"total_keys"`
	AgentsWithContext int   `json:"agents_with_context"`
	AgentsWithHistory int   `json:"agents_with_history"`
	ActiveSessions    int   `json:"active_sessions"`
	OnlineAgents      int   `json:"online_agents"`
	Snapshots         int   `json:"snapshots"`
}

// Admin exposes liveness, statistics and the guarded flush.
type Admin struct {
	base
	allowFlush bool

	contexts  *ContextStore
	histories *HistoryLog
	sessions  *SessionRegistry
	presence  *PresenceTracker
	snapshots *SnapshotStore
}

// NewAdmin creates the administration component over the given siblings.
func NewAdmin(
	kv ports.KV,
	cfg *config.StoreConfig,
	contexts *ContextStore,
	histories *HistoryLog,
	sessions *SessionRegistry,
	presence *PresenceTracker,
	snapshots *SnapshotStore,
	opts Options,
) *Admin {
	return &Admin{
		base:       newBase(kv, "admin", opts),
		allowFlush: cfg.AllowFlush,
		contexts:   contexts,
		histories:  histories,
		sessions:   sessions,
		presence:   presence,
		snapshots:  snapshots,
	}
}

// Ping checks that the store answers.
func (a *Admin) Ping(ctx context.Context) (err error) {
	ctx, end := a.begin(ctx, "ping", nil)
	defer end(&err)

	if err = a.kv.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// GetStats gathers the counts concurrently. Each count is a separate scan,
// so the figures need not be mutually consistent.
func (a *Admin) GetStats(ctx context.Context) (stats *Stats, err error) {
	ctx, end := a.begin(ctx, "stats", nil)
	defer end(&err)

	stats = &Stats{}
	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		n, err := a.kv.DBSize(ctx)
		stats.TotalKeys = n
		return err
	})
	p.Go(func(ctx context.Context) error {
		agents, err := a.contexts.ListAgents(ctx)
		stats.AgentsWithContext = len(agents)
		return err
	})
	p.Go(func(ctx context.Context) error {
		agents, err := a.histories.ListAgents(ctx)
		stats.AgentsWithHistory = len(agents)
		return err
	})
	p.Go(func(ctx context.Context) error {
		ids, err := a.sessions.ListSessions(ctx, SessionActive)
		stats.ActiveSessions = len(ids)
		return err
	})
	p.Go(func(ctx context.Context) error {
		agents, err := a.presence.GetAllOnlineAgents(ctx)
		stats.OnlineAgents = len(agents)
		return err
	})
	p.Go(func(ctx context.Context) error {
		timestamps, err := a.snapshots.ListSnapshots(ctx)
		stats.Snapshots = len(timestamps)
		return err
	})
	if err = p.Wait(); err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return stats, nil
}

// FlushAll erases every key in the store's database. It is refused unless
// flushing is enabled in configuration and confirm equals FlushConfirmation.
func (a *Admin) FlushAll(ctx context.Context, confirm string) (err error) {
	ctx, end := a.begin(ctx, "flush", nil)
	defer end(&err)

	if !a.allowFlush {
		return ErrFlushDisabled
	}
	if confirm != FlushConfirmation {
		return ErrFlushNotConfirmed
	}
	a.logger.Warn().Msg("Flushing all memory data")
	if err = a.kv.FlushDB(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}
