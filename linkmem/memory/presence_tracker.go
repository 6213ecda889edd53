package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	internal "github.com/ZanzyTHEbar/linkmem/linkmem"
	"github.com/ZanzyTHEbar/linkmem/linkmem/config"
	ports "github.com/ZanzyTHEbar/linkmem/linkmem/store/ports"
	"github.com/sourcegraph/conc/pool"
)

const presencePrefix = "presence:"

// PresenceTracker keeps a leased status string per agent in presence:<agentId>.
// A missing key means the agent is offline; there is no explicit offline write.
type PresenceTracker struct {
	base
	defaultTTL time.Duration
	online     string
}

// NewPresenceTracker creates a presence tracker.
func NewPresenceTracker(kv ports.KV, cfg *config.MemoryConfig, opts Options) *PresenceTracker {
	ttl := cfg.PresenceTTL
	if ttl <= 0 {
		ttl = internal.DefaultPresenceTTL
	}
	online := cfg.OnlineStatus
	if online == "" {
		online = internal.DefaultOnlineStatus
	}
	return &PresenceTracker{
		base:       newBase(kv, "presence", opts),
		defaultTTL: ttl,
		online:     online,
	}
}

func presenceKey(agentID string) string {
	return presencePrefix + agentID
}

// SetPresence writes status with a lease of ttl. An empty status means
// online and a ttl of zero or less means the configured default. Writing a
// short ttl is the way to take an agent offline early.
func (p *PresenceTracker) SetPresence(ctx context.Context, agentID, status string, ttl time.Duration) (err error) {
	if status == "" {
		status = p.online
	}
	if ttl <= 0 {
		ttl = p.defaultTTL
	}
	ctx, end := p.begin(ctx, "set", map[string]any{
		"agent_id": agentID,
		"status":   status,
		"ttl_ms":   ttl.Milliseconds(),
	})
	defer end(&err)

	if err = requireID(agentID); err != nil {
		return err
	}
	if err = p.kv.Set(ctx, presenceKey(agentID), status, ttl); err != nil {
		return fmt.Errorf("set presence %s: %w", agentID, err)
	}
	return nil
}

// GetPresence returns the stored status, or "offline" when the lease is gone.
// On a store failure it returns "offline" together with the error.
func (p *PresenceTracker) GetPresence(ctx context.Context, agentID string) (status string, err error) {
	ctx, end := p.begin(ctx, "get", map[string]any{"agent_id": agentID})
	defer end(&err)

	if err = requireID(agentID); err != nil {
		return internal.OfflineStatus, err
	}
	value, ok, err := p.kv.Get(ctx, presenceKey(agentID))
	if err != nil {
		return internal.OfflineStatus, fmt.Errorf("get presence %s: %w", agentID, err)
	}
	if !ok {
		return internal.OfflineStatus, nil
	}
	return value, nil
}

// GetAllOnlineAgents returns the sorted ids of agents whose status equals the
// online status. The result is a best-effort point-in-time view: leases that
// expire between the scan and the read are left out.
func (p *PresenceTracker) GetAllOnlineAgents(ctx context.Context) (agents []string, err error) {
	ctx, end := p.begin(ctx, "online", nil)
	defer end(&err)

	ids, err := p.scanIDs(ctx, presencePrefix)
	if err != nil {
		return nil, fmt.Errorf("scan presence: %w", err)
	}

	batch := p.opts.ScanCount
	workers := pool.NewWithResults[[]string]().
		WithMaxGoroutines(p.opts.ScanConcurrency).
		WithContext(ctx).
		WithCancelOnError()
	for start := 0; start < len(ids); start += batch {
		chunk := ids[start:min(start+batch, len(ids))]
		workers.Go(func(ctx context.Context) ([]string, error) {
			keys := make([]string, len(chunk))
			for i, id := range chunk {
				keys[i] = presenceKey(id)
			}
			values, err := p.kv.MGet(ctx, keys...)
			if err != nil {
				return nil, err
			}
			online := make([]string, 0, len(chunk))
			for i, v := range values {
				if v != nil && *v == p.online {
					online = append(online, chunk[i])
				}
			}
			return online, nil
		})
	}
	chunks, err := workers.Wait()
	if err != nil {
		return nil, fmt.Errorf("read presence: %w", err)
	}

	agents = make([]string, 0, len(ids))
	for _, c := range chunks {
		agents = append(agents, c...)
	}
	sort.Strings(agents)
	return agents, nil
}
