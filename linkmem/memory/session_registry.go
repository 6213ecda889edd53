package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ZanzyTHEbar/linkmem/linkmem/config"
	ports "github.com/ZanzyTHEbar/linkmem/linkmem/store/ports"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
)

const sessionPrefix = "session:"

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Stored session fields.
const (
	FieldSessionID     = "session_id"
	FieldStatus        = "status"
	FieldCreatedAt     = "created_at"
	FieldClosedAt      = "closed_at"
	FieldLastMessageAt = "last_message_at"
	FieldParticipants  = "participants"
	FieldMetadata      = "metadata"
	FieldMessageCount  = "message_count"
	FieldSummary       = "summary"
)

// MetadataContextKey is the metadata entry holding a session's shared context.
const MetadataContextKey = "context"

// Session is a decoded session record.
type Session struct {
	ID            string         `json:"session_id"`
	Status        SessionStatus  `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at,omitzero"`
	ClosedAt      time.Time      `json:"closed_at,omitzero"`
	LastMessageAt time.Time      `json:"last_message_at,omitzero"`
	Participants  []string       `json:"participants"`
	Metadata      map[string]any `json:"metadata"`
	MessageCount  int64          `json:"message_count"`
	Summary       string         `json:"summary,omitempty"`

	// Fields holds every stored field decoded, including caller-defined ones.
	Fields map[string]any `json:"-"`
}

// SessionStats summarizes one session.
type SessionStats struct {
	SessionID        string        `json:"session_id"`
	Status           SessionStatus `json:"status"`
	ParticipantCount int           `json:"participant_count"`
	MessageCount     int64         `json:"message_count"`
	Duration         time.Duration `json:"duration"`
}

// SessionRegistry stores multi-participant session records in
// session:<sessionId>. The lifecycle is active -> completed and only
// CloseSession moves a session to completed. Sessions are never deleted here.
type SessionRegistry struct {
	base
	strictStatus bool
}

// NewSessionRegistry creates a session registry.
func NewSessionRegistry(kv ports.KV, cfg *config.MemoryConfig, opts Options) *SessionRegistry {
	return &SessionRegistry{
		base:         newBase(kv, "session", opts),
		strictStatus: cfg.StrictSessionStatus,
	}
}

func sessionKey(sessionID string) string {
	return sessionPrefix + sessionID
}

// CreateSession writes a new active session, overwriting any record with
// the same id. An empty sessionID is replaced by a random UUID. The
// participants list is taken from metadata["participants"].
func (r *SessionRegistry) CreateSession(ctx context.Context, sessionID string, metadata map[string]any) (id string, err error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	ctx, end := r.begin(ctx, "create", map[string]any{"session_id": sessionID})
	defer end(&err)

	if metadata == nil {
		metadata = map[string]any{}
	}
	participants, err := toStringList(metadata[FieldParticipants])
	if err != nil {
		return "", fmt.Errorf("session %s participants: %w", sessionID, err)
	}

	record, err := encodeFields(map[string]any{
		FieldSessionID:    sessionID,
		FieldCreatedAt:    r.stamp(),
		FieldStatus:       string(SessionActive),
		FieldParticipants: participants,
		FieldMetadata:     metadata,
		FieldMessageCount: 0,
	})
	if err != nil {
		return "", fmt.Errorf("session %s: %w", sessionID, err)
	}

	// Overwrite, not merge: drop fields left by an earlier session of this id.
	key := sessionKey(sessionID)
	if _, err = r.kv.Del(ctx, key); err != nil {
		return "", fmt.Errorf("create session %s: %w", sessionID, err)
	}
	if err = r.kv.HSet(ctx, key, record); err != nil {
		return "", fmt.Errorf("create session %s: %w", sessionID, err)
	}
	return sessionID, nil
}

// GetSession returns the session record; found is false when it does not exist.
func (r *SessionRegistry) GetSession(ctx context.Context, sessionID string) (session *Session, found bool, err error) {
	ctx, end := r.begin(ctx, "get", map[string]any{"session_id": sessionID})
	defer end(&err)

	if err = requireID(sessionID); err != nil {
		return nil, false, err
	}
	return r.load(ctx, sessionID)
}

// UpdateSession merges fields into the session and stamps updated_at.
// Writing the status field is allowed unless strict session status is
// configured, in which case it fails with ErrStatusTransition.
func (r *SessionRegistry) UpdateSession(ctx context.Context, sessionID string, fields map[string]any) (err error) {
	ctx, end := r.begin(ctx, "update", map[string]any{"session_id": sessionID, "fields": len(fields)})
	defer end(&err)

	if err = requireID(sessionID); err != nil {
		return err
	}
	if _, touchesStatus := fields[FieldStatus]; touchesStatus && r.strictStatus {
		return ErrStatusTransition
	}

	record := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		record[k] = v
	}
	record[FieldUpdatedAt] = r.stamp()

	return r.write(ctx, sessionID, record)
}

// CloseSession marks the session completed and stamps closed_at. Closing a
// completed session changes nothing.
func (r *SessionRegistry) CloseSession(ctx context.Context, sessionID string) error {
	return r.close(ctx, sessionID, nil)
}

// CloseSessionWithSummary closes the session and stores a summary of it.
func (r *SessionRegistry) CloseSessionWithSummary(ctx context.Context, sessionID, summary string) error {
	return r.close(ctx, sessionID, &summary)
}

func (r *SessionRegistry) close(ctx context.Context, sessionID string, summary *string) (err error) {
	ctx, end := r.begin(ctx, "close", map[string]any{"session_id": sessionID})
	defer end(&err)

	status, err := r.status(ctx, sessionID)
	if err != nil {
		return err
	}

	record := make(map[string]any, 3)
	if status != SessionCompleted {
		record[FieldStatus] = string(SessionCompleted)
		record[FieldClosedAt] = r.stamp()
	}
	if summary != nil {
		record[FieldSummary] = *summary
	}
	if len(record) == 0 {
		return nil
	}
	return r.write(ctx, sessionID, record)
}

// AddParticipant adds agentID to the participant list if it is not there.
func (r *SessionRegistry) AddParticipant(ctx context.Context, sessionID, agentID string) error {
	return r.editParticipants(ctx, "add_participant", sessionID, agentID, func(list []string) ([]string, bool) {
		for _, p := range list {
			if p == agentID {
				return list, false
			}
		}
		return append(list, agentID), true
	})
}

// RemoveParticipant removes agentID from the participant list.
func (r *SessionRegistry) RemoveParticipant(ctx context.Context, sessionID, agentID string) error {
	return r.editParticipants(ctx, "remove_participant", sessionID, agentID, func(list []string) ([]string, bool) {
		out := make([]string, 0, len(list))
		for _, p := range list {
			if p != agentID {
				out = append(out, p)
			}
		}
		return out, len(out) != len(list)
	})
}

// editParticipants reads the list, applies edit and writes it back. Two
// concurrent edits of the same session can lose one of the changes.
func (r *SessionRegistry) editParticipants(
	ctx context.Context,
	op, sessionID, agentID string,
	edit func([]string) ([]string, bool),
) (err error) {
	ctx, end := r.begin(ctx, op, map[string]any{"session_id": sessionID, "agent_id": agentID})
	defer end(&err)

	if err = requireID(sessionID); err != nil {
		return err
	}
	if err = requireID(agentID); err != nil {
		return err
	}
	session, found, err := r.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	participants, changed := edit(session.Participants)
	if !changed {
		return nil
	}
	return r.write(ctx, sessionID, map[string]any{
		FieldParticipants: participants,
		FieldUpdatedAt:    r.stamp(),
	})
}

// GetSessionContext returns the context kept under metadata["context"] of a
// session. found is false when the session does not exist; a session
// without a context yields an empty map.
func (r *SessionRegistry) GetSessionContext(ctx context.Context, sessionID string) (sessionCtx map[string]any, found bool, err error) {
	ctx, end := r.begin(ctx, "get_context", map[string]any{"session_id": sessionID})
	defer end(&err)

	if err = requireID(sessionID); err != nil {
		return nil, false, err
	}
	session, found, err := r.load(ctx, sessionID)
	if err != nil || !found {
		return nil, found, err
	}
	if current, ok := session.Metadata[MetadataContextKey].(map[string]any); ok {
		return current, true, nil
	}
	return map[string]any{}, true, nil
}

// UpdateSessionContext deep merges update into metadata["context"] and
// writes the metadata back with updated_at. The session must exist. Like
// PushContext, a concurrent metadata writer between the read and the write
// loses the fields update touches.
func (r *SessionRegistry) UpdateSessionContext(ctx context.Context, sessionID string, update map[string]any) (err error) {
	ctx, end := r.begin(ctx, "update_context", map[string]any{"session_id": sessionID, "fields": len(update)})
	defer end(&err)

	if err = requireID(sessionID); err != nil {
		return err
	}
	session, found, err := r.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	current, _ := session.Metadata[MetadataContextKey].(map[string]any)
	merged, err := mergeInto(current, update)
	if err != nil {
		return fmt.Errorf("session %s context: %w", sessionID, err)
	}
	session.Metadata[MetadataContextKey] = merged
	return r.write(ctx, sessionID, map[string]any{
		FieldMetadata:  session.Metadata,
		FieldUpdatedAt: r.stamp(),
	})
}

// RecordMessage increments the session's message count and stamps
// last_message_at. It returns the new count.
func (r *SessionRegistry) RecordMessage(ctx context.Context, sessionID string) (count int64, err error) {
	ctx, end := r.begin(ctx, "record_message", map[string]any{"session_id": sessionID})
	defer end(&err)

	if _, err = r.status(ctx, sessionID); err != nil {
		return 0, err
	}
	key := sessionKey(sessionID)
	count, err = r.kv.HIncrBy(ctx, key, FieldMessageCount, 1)
	if err != nil {
		return 0, fmt.Errorf("record message %s: %w", sessionID, err)
	}
	if err = r.kv.HSet(ctx, key, map[string]string{FieldLastMessageAt: r.stamp()}); err != nil {
		return 0, fmt.Errorf("record message %s: %w", sessionID, err)
	}
	return count, nil
}

// SessionStats returns counts and the duration of a session. Open sessions
// are measured up to now.
func (r *SessionRegistry) SessionStats(ctx context.Context, sessionID string) (stats *SessionStats, found bool, err error) {
	ctx, end := r.begin(ctx, "stats", map[string]any{"session_id": sessionID})
	defer end(&err)

	if err = requireID(sessionID); err != nil {
		return nil, false, err
	}
	session, found, err := r.load(ctx, sessionID)
	if err != nil || !found {
		return nil, found, err
	}
	endAt := session.ClosedAt
	if endAt.IsZero() {
		endAt = r.now()
	}
	var duration time.Duration
	if !session.CreatedAt.IsZero() {
		duration = endAt.Sub(session.CreatedAt)
	}
	return &SessionStats{
		SessionID:        session.ID,
		Status:           session.Status,
		ParticipantCount: len(session.Participants),
		MessageCount:     session.MessageCount,
		Duration:         duration,
	}, true, nil
}

// ListSessions returns the sorted ids of sessions, restricted to status
// when it is not empty. Statuses are read concurrently after the scan;
// sessions that disappear in between are skipped.
func (r *SessionRegistry) ListSessions(ctx context.Context, status SessionStatus) (ids []string, err error) {
	ctx, end := r.begin(ctx, "list", map[string]any{"status": string(status)})
	defer end(&err)

	all, err := r.scanIDs(ctx, sessionPrefix)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if status == "" {
		sort.Strings(all)
		return all, nil
	}

	p := pool.NewWithResults[string]().
		WithMaxGoroutines(r.opts.ScanConcurrency).
		WithContext(ctx).
		WithCancelOnError()
	for _, id := range all {
		p.Go(func(ctx context.Context) (string, error) {
			raw, ok, err := r.kv.HGet(ctx, sessionKey(id), FieldStatus)
			if err != nil {
				return "", err
			}
			if !ok || SessionStatus(asString(Decode(raw))) != status {
				return "", nil
			}
			return id, nil
		})
	}
	matched, err := p.Wait()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	ids = make([]string, 0, len(matched))
	for _, id := range matched {
		if id != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// SessionsForAgent returns the sorted ids of sessions listing agentID as a participant.
func (r *SessionRegistry) SessionsForAgent(ctx context.Context, agentID string) (ids []string, err error) {
	ctx, end := r.begin(ctx, "for_agent", map[string]any{"agent_id": agentID})
	defer end(&err)

	all, err := r.scanIDs(ctx, sessionPrefix)
	if err != nil {
		return nil, fmt.Errorf("sessions for agent %s: %w", agentID, err)
	}

	p := pool.NewWithResults[string]().
		WithMaxGoroutines(r.opts.ScanConcurrency).
		WithContext(ctx).
		WithCancelOnError()
	for _, id := range all {
		p.Go(func(ctx context.Context) (string, error) {
			raw, ok, err := r.kv.HGet(ctx, sessionKey(id), FieldParticipants)
			if err != nil || !ok {
				return "", err
			}
			participants, _ := toStringList(Decode(raw))
			for _, participant := range participants {
				if participant == agentID {
					return id, nil
				}
			}
			return "", nil
		})
	}
	matched, err := p.Wait()
	if err != nil {
		return nil, fmt.Errorf("sessions for agent %s: %w", agentID, err)
	}

	ids = make([]string, 0, len(matched))
	for _, id := range matched {
		if id != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// status returns the stored status, or ErrSessionNotFound.
func (r *SessionRegistry) status(ctx context.Context, sessionID string) (SessionStatus, error) {
	if err := requireID(sessionID); err != nil {
		return "", err
	}
	raw, ok, err := r.kv.HGet(ctx, sessionKey(sessionID), FieldStatus)
	if err != nil {
		return "", fmt.Errorf("read session %s: %w", sessionID, err)
	}
	if !ok {
		return "", fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	return SessionStatus(asString(Decode(raw))), nil
}

func (r *SessionRegistry) load(ctx context.Context, sessionID string) (*Session, bool, error) {
	raw, err := r.kv.HGetAll(ctx, sessionKey(sessionID))
	if err != nil {
		return nil, false, fmt.Errorf("read session %s: %w", sessionID, err)
	}
	if len(raw) == 0 {
		return nil, false, nil
	}
	return r.decodeSession(sessionID, raw), true, nil
}

func (r *SessionRegistry) write(ctx context.Context, sessionID string, record map[string]any) error {
	encoded, err := encodeFields(record)
	if err != nil {
		return fmt.Errorf("session %s: %w", sessionID, err)
	}
	if err := r.kv.HSet(ctx, sessionKey(sessionID), encoded); err != nil {
		return fmt.Errorf("write session %s: %w", sessionID, err)
	}
	return nil
}

// decodeSession builds a Session from stored fields. Malformed typed fields
// are logged and left at their zero value; Fields always carries them.
func (r *SessionRegistry) decodeSession(sessionID string, raw map[string]string) *Session {
	fields := decodeFields(raw)
	s := &Session{
		ID:       sessionID,
		Status:   SessionStatus(asString(fields[FieldStatus])),
		Summary:  asString(fields[FieldSummary]),
		Metadata: map[string]any{},
		Fields:   fields,
	}
	if id := asString(fields[FieldSessionID]); id != "" {
		s.ID = id
	}
	s.CreatedAt = r.parseTime(sessionID, FieldCreatedAt, raw[FieldCreatedAt])
	s.UpdatedAt = r.parseTime(sessionID, FieldUpdatedAt, raw[FieldUpdatedAt])
	s.ClosedAt = r.parseTime(sessionID, FieldClosedAt, raw[FieldClosedAt])
	s.LastMessageAt = r.parseTime(sessionID, FieldLastMessageAt, raw[FieldLastMessageAt])

	if participants, err := toStringList(fields[FieldParticipants]); err == nil {
		s.Participants = participants
	} else {
		r.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Malformed participants field")
		s.Participants = []string{}
	}
	if meta, ok := fields[FieldMetadata].(map[string]any); ok {
		s.Metadata = meta
	}
	if n, ok := fields[FieldMessageCount].(float64); ok {
		s.MessageCount = int64(n)
	}
	return s
}

func (r *SessionRegistry) parseTime(sessionID, field, raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := ParseTimestamp(raw)
	if err != nil {
		r.logger.Warn().Err(err).Str("session_id", sessionID).Str("field", field).Msg("Malformed timestamp")
		return time.Time{}
	}
	return t
}

// toStringList accepts nil, []string or a []any of strings.
func toStringList(v any) ([]string, error) {
	switch list := v.(type) {
	case nil:
		return []string{}, nil
	case []string:
		out := make([]string, len(list))
		copy(out, list)
		return out, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("participant %v is not a string", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("participants must be a list, got %T", v)
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}
