package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/ZanzyTHEbar/linkmem/linkmem/config"
	ports "github.com/ZanzyTHEbar/linkmem/linkmem/store/ports"
)

const (
	contextPrefix = "context:"

	// FieldUpdatedAt and FieldAgentID are injected into every context write.
	FieldUpdatedAt = "updated_at"
	FieldAgentID   = "agent_id"
)

// ContextStore keeps each agent's working state in the hash context:<agentId>.
type ContextStore struct {
	base
	maxBytes int
	globalID string
}

// NewContextStore creates a context store.
func NewContextStore(kv ports.KV, cfg *config.MemoryConfig, opts Options) *ContextStore {
	return &ContextStore{
		base:     newBase(kv, "context", opts),
		maxBytes: cfg.MaxContextBytes,
		globalID: cfg.GlobalContextID,
	}
}

func contextKey(agentID string) string {
	return contextPrefix + agentID
}

// SetContext writes every given field in one HSET after stamping updated_at
// and agent_id. Fields already stored but absent from fields are kept, so
// this is not a full replace; PushContext with merge=false behaves the same.
// Call DeleteContext first to drop stale fields.
func (s *ContextStore) SetContext(ctx context.Context, agentID string, fields map[string]any) (err error) {
	ctx, end := s.begin(ctx, "set", map[string]any{"agent_id": agentID, "fields": len(fields)})
	defer end(&err)

	if err = requireID(agentID); err != nil {
		return err
	}

	record := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		record[k] = v
	}
	record[FieldUpdatedAt] = s.stamp()
	record[FieldAgentID] = agentID

	return s.write(ctx, agentID, record)
}

// GetContext returns the decoded fields of an agent's context. found is
// false when the agent has no stored fields.
func (s *ContextStore) GetContext(ctx context.Context, agentID string) (fields map[string]any, found bool, err error) {
	ctx, end := s.begin(ctx, "get", map[string]any{"agent_id": agentID})
	defer end(&err)

	if err = requireID(agentID); err != nil {
		return nil, false, err
	}
	raw, err := s.kv.HGetAll(ctx, contextKey(agentID))
	if err != nil {
		return nil, false, fmt.Errorf("get context %s: %w", agentID, err)
	}
	if len(raw) == 0 {
		return nil, false, nil
	}
	return decodeFields(raw), true, nil
}

// UpdateContext writes only the given fields and updated_at.
func (s *ContextStore) UpdateContext(ctx context.Context, agentID string, partial map[string]any) (err error) {
	ctx, end := s.begin(ctx, "update", map[string]any{"agent_id": agentID, "fields": len(partial)})
	defer end(&err)

	if err = requireID(agentID); err != nil {
		return err
	}

	record := make(map[string]any, len(partial)+1)
	for k, v := range partial {
		record[k] = v
	}
	record[FieldUpdatedAt] = s.stamp()

	return s.write(ctx, agentID, record)
}

// DeleteContext removes the agent's context. Deleting a missing context succeeds.
func (s *ContextStore) DeleteContext(ctx context.Context, agentID string) (err error) {
	ctx, end := s.begin(ctx, "delete", map[string]any{"agent_id": agentID})
	defer end(&err)

	if err = requireID(agentID); err != nil {
		return err
	}
	if _, err = s.kv.Del(ctx, contextKey(agentID)); err != nil {
		return fmt.Errorf("delete context %s: %w", agentID, err)
	}
	return nil
}

// PushContext stores update for an agent. With merge set, update is deep
// merged into the current context first; otherwise it behaves like SetContext.
// The read and the write are separate commands; a concurrent writer between
// them is overwritten for the fields update touches.
func (s *ContextStore) PushContext(ctx context.Context, agentID string, update map[string]any, merge bool) error {
	if !merge {
		return s.SetContext(ctx, agentID, update)
	}
	current, _, err := s.GetContext(ctx, agentID)
	if err != nil {
		return err
	}
	merged, err := mergeInto(current, update)
	if err != nil {
		return err
	}
	return s.SetContext(ctx, agentID, merged)
}

// GetGlobalContext returns the context shared by all agents, or an empty map.
func (s *ContextStore) GetGlobalContext(ctx context.Context) (map[string]any, error) {
	fields, found, err := s.GetContext(ctx, s.globalID)
	if err != nil {
		return nil, err
	}
	if !found {
		return map[string]any{}, nil
	}
	return fields, nil
}

// UpdateGlobalContext deep merges update into the shared context.
func (s *ContextStore) UpdateGlobalContext(ctx context.Context, update map[string]any) error {
	return s.PushContext(ctx, s.globalID, update, true)
}

// ListAgents returns the sorted ids of agents with a stored context,
// excluding the shared context.
func (s *ContextStore) ListAgents(ctx context.Context) (agents []string, err error) {
	ctx, end := s.begin(ctx, "list", nil)
	defer end(&err)

	ids, err := s.scanIDs(ctx, contextPrefix)
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	agents = make([]string, 0, len(ids))
	for _, id := range ids {
		if id != s.globalID {
			agents = append(agents, id)
		}
	}
	sort.Strings(agents)
	return agents, nil
}

// write encodes record, enforces the size limit and issues a single HSET.
func (s *ContextStore) write(ctx context.Context, agentID string, record map[string]any) error {
	encoded, err := encodeFields(record)
	if err != nil {
		return fmt.Errorf("context %s: %w", agentID, err)
	}
	if s.maxBytes > 0 {
		size := 0
		for k, v := range encoded {
			size += len(k) + len(v)
		}
		if size > s.maxBytes {
			return fmt.Errorf("context %s is %d bytes, limit %d: %w", agentID, size, s.maxBytes, ErrContextTooLarge)
		}
	}
	if err := s.kv.HSet(ctx, contextKey(agentID), encoded); err != nil {
		return fmt.Errorf("write context %s: %w", agentID, err)
	}
	return nil
}

// mergeInto normalizes update and deep merges it into current.
func mergeInto(current, update map[string]any) (map[string]any, error) {
	normalized := make(map[string]any, len(update))
	for k, v := range update {
		n, err := normalize(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		normalized[k] = n
	}
	return deepMerge(current, normalized), nil
}
