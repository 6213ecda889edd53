package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	internal "github.com/ZanzyTHEbar/linkmem/linkmem"
	"github.com/ZanzyTHEbar/linkmem/linkmem/config"
	ports "github.com/ZanzyTHEbar/linkmem/linkmem/store/ports"
	"github.com/xeipuuv/gojsonschema"
)

const historyPrefix = "history:"

// HistoryLog keeps a bounded, append-only list of entries per agent in
// history:<agentId>.
//
// AppendHistory issues RPUSH then LTRIM as two commands. With a single
// writer the list never exceeds maxHistory after a call returns. With
// concurrent writers for the same agent the list may briefly hold more
// entries, or a trim may land between another writer's push and trim; the
// length converges to maxHistory on the next append once writers stop.
type HistoryLog struct {
	base
	maxHistory int
	schema     *gojsonschema.Schema
}

// NewHistoryLog creates a history log. When cfg.HistorySchema names a JSON
// Schema file, every appended entry is validated against it.
func NewHistoryLog(kv ports.KV, cfg *config.MemoryConfig, opts Options) (*HistoryLog, error) {
	maxHistory := cfg.MaxHistory
	if maxHistory <= 0 {
		maxHistory = internal.DefaultMaxHistory
	}
	h := &HistoryLog{
		base:       newBase(kv, "history", opts),
		maxHistory: maxHistory,
	}
	if cfg.HistorySchema != "" {
		schema, err := LoadHistorySchema(cfg.HistorySchema)
		if err != nil {
			return nil, err
		}
		h.schema = schema
	}
	return h, nil
}

// LoadHistorySchema compiles the JSON Schema stored at path.
func LoadHistorySchema(path string) (*gojsonschema.Schema, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("history schema path: %w", err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewReferenceLoader("file://" + filepath.ToSlash(abs)))
	if err != nil {
		return nil, fmt.Errorf("failed to load history schema %s: %w", path, err)
	}
	return schema, nil
}

// WithSchema replaces the entry schema. A nil schema disables validation.
func (h *HistoryLog) WithSchema(schema *gojsonschema.Schema) *HistoryLog {
	h.schema = schema
	return h
}

func historyKey(agentID string) string {
	return historyPrefix + agentID
}

// AppendHistory appends entry and trims the list to the most recent
// maxHistory entries.
func (h *HistoryLog) AppendHistory(ctx context.Context, agentID string, entry any) (err error) {
	ctx, end := h.begin(ctx, "append", map[string]any{"agent_id": agentID})
	defer end(&err)

	if err = requireID(agentID); err != nil {
		return err
	}
	if err = h.validate(entry); err != nil {
		return err
	}

	encoded, err := encodeJSON(entry)
	if err != nil {
		return fmt.Errorf("history %s: %w", agentID, err)
	}

	key := historyKey(agentID)
	length, err := h.kv.RPush(ctx, key, encoded)
	if err != nil {
		return fmt.Errorf("append history %s: %w", agentID, err)
	}
	if length <= int64(h.maxHistory) {
		return nil
	}
	if err = h.kv.LTrim(ctx, key, -int64(h.maxHistory), -1); err != nil {
		return fmt.Errorf("trim history %s: %w", agentID, err)
	}
	return nil
}

// GetHistory returns up to limit of the most recent entries, oldest first.
// A limit of zero or less returns the whole log. Entries that are not valid
// JSON are logged and skipped.
func (h *HistoryLog) GetHistory(ctx context.Context, agentID string, limit int) (entries []any, err error) {
	ctx, end := h.begin(ctx, "get", map[string]any{"agent_id": agentID, "limit": limit})
	defer end(&err)

	if err = requireID(agentID); err != nil {
		return nil, err
	}
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := h.kv.LRange(ctx, historyKey(agentID), start, -1)
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", agentID, err)
	}

	entries = make([]any, 0, len(raw))
	for i, item := range raw {
		var entry any
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			h.logger.Warn().
				Err(err).
				Str("agent_id", agentID).
				Int("index", i).
				Msg("Skipping undecodable history entry")
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ClearHistory deletes the agent's log. Clearing a missing log succeeds.
func (h *HistoryLog) ClearHistory(ctx context.Context, agentID string) (err error) {
	ctx, end := h.begin(ctx, "clear", map[string]any{"agent_id": agentID})
	defer end(&err)

	if err = requireID(agentID); err != nil {
		return err
	}
	if _, err = h.kv.Del(ctx, historyKey(agentID)); err != nil {
		return fmt.Errorf("clear history %s: %w", agentID, err)
	}
	return nil
}

// HistoryLength returns the number of stored entries for an agent.
func (h *HistoryLog) HistoryLength(ctx context.Context, agentID string) (n int64, err error) {
	ctx, end := h.begin(ctx, "len", map[string]any{"agent_id": agentID})
	defer end(&err)

	if err = requireID(agentID); err != nil {
		return 0, err
	}
	n, err = h.kv.LLen(ctx, historyKey(agentID))
	if err != nil {
		return 0, fmt.Errorf("history length %s: %w", agentID, err)
	}
	return n, nil
}

// ListAgents returns the ids of agents with a stored history.
func (h *HistoryLog) ListAgents(ctx context.Context) (agents []string, err error) {
	ctx, end := h.begin(ctx, "list", nil)
	defer end(&err)

	agents, err = h.scanIDs(ctx, historyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list histories: %w", err)
	}
	return agents, nil
}

func (h *HistoryLog) validate(entry any) error {
	if h.schema == nil {
		return nil
	}
	var loader gojsonschema.JSONLoader
	if raw, ok := entry.(json.RawMessage); ok {
		loader = gojsonschema.NewBytesLoader(raw)
	} else {
		loader = gojsonschema.NewGoLoader(entry)
	}
	result, err := h.schema.Validate(loader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidEntry, strings.Join(problems, "; "))
	}
	return nil
}
