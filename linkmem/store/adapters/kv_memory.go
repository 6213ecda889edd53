package adapters

import (
	"context"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/linkmem/linkmem/store/ports"
	"github.com/armon/go-radix"
)

type valueKind int

const (
	kindString valueKind = iota
	kindHash
	kindList
)

// memEntry is a single key of the in-process keyspace.
type memEntry struct {
	kind     valueKind
	str      string
	hash     map[string]string
	list     []string
	expireAt time.Time // zero means no expiry
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

// MemoryKV implements the KV port in process memory. Keys live in a radix
// tree so prefix scans touch only the matching subtree; expiry is lazy,
// checked on every access.
type MemoryKV struct {
	mu   sync.Mutex
	tree *radix.Tree
	now  func() time.Time
}

// MemoryOption configures a MemoryKV.
type MemoryOption func(*MemoryKV)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryKV) { m.now = now }
}

// NewMemoryKV creates an empty in-memory keyspace.
func NewMemoryKV(opts ...MemoryOption) *MemoryKV {
	m := &MemoryKV{tree: radix.New(), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// lookupLocked returns the live entry for key, purging it if expired.
func (m *MemoryKV) lookupLocked(key string) (*memEntry, bool) {
	v, ok := m.tree.Get(key)
	if !ok {
		return nil, false
	}
	e := v.(*memEntry)
	if e.expired(m.now()) {
		m.tree.Delete(key)
		return nil, false
	}
	return e, true
}

func (m *MemoryKV) typedLocked(key string, kind valueKind) (*memEntry, bool, error) {
	e, ok := m.lookupLocked(key)
	if !ok {
		return nil, false, nil
	}
	if e.kind != kind {
		return nil, false, ports.ErrWrongType
	}
	return e, true, nil
}

func (m *MemoryKV) HSet(ctx context.Context, key string, fields map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok, err := m.typedLocked(key, kindHash)
	if err != nil {
		return err
	}
	if !ok {
		e = &memEntry{kind: kindHash, hash: make(map[string]string, len(fields))}
		m.tree.Insert(key, e)
	}
	for k, v := range fields {
		e.hash[k] = v
	}
	return nil
}

func (m *MemoryKV) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok, err := m.typedLocked(key, kindHash)
	if err != nil {
		return nil, err
	}
	result := make(map[string]string)
	if !ok {
		return result, nil
	}
	for k, v := range e.hash {
		result[k] = v
	}
	return result, nil
}

func (m *MemoryKV) HGet(ctx context.Context, key, field string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok, err := m.typedLocked(key, kindHash)
	if err != nil || !ok {
		return "", false, err
	}
	v, ok := e.hash[field]
	return v, ok, nil
}

func (m *MemoryKV) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok, err := m.typedLocked(key, kindHash)
	if err != nil {
		return 0, err
	}
	if !ok {
		e = &memEntry{kind: kindHash, hash: make(map[string]string)}
		m.tree.Insert(key, e)
	}
	var current int64
	if raw, exists := e.hash[field]; exists {
		current, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, ports.ErrWrongType
		}
	}
	current += incr
	e.hash[field] = strconv.FormatInt(current, 10)
	return current, nil
}

func (m *MemoryKV) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok, err := m.typedLocked(key, kindList)
	if err != nil {
		return 0, err
	}
	if !ok {
		if len(values) == 0 {
			return 0, nil
		}
		e = &memEntry{kind: kindList}
		m.tree.Insert(key, e)
	}
	e.list = append(e.list, values...)
	return int64(len(e.list)), nil
}

func (m *MemoryKV) LTrim(ctx context.Context, key string, start, stop int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok, err := m.typedLocked(key, kindList)
	if err != nil || !ok {
		return err
	}
	from, to, nonEmpty := listRange(start, stop, int64(len(e.list)))
	if !nonEmpty {
		m.tree.Delete(key)
		return nil
	}
	trimmed := make([]string, to-from+1)
	copy(trimmed, e.list[from:to+1])
	e.list = trimmed
	return nil
}

func (m *MemoryKV) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok, err := m.typedLocked(key, kindList)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []string{}, nil
	}
	from, to, nonEmpty := listRange(start, stop, int64(len(e.list)))
	if !nonEmpty {
		return []string{}, nil
	}
	out := make([]string, to-from+1)
	copy(out, e.list[from:to+1])
	return out, nil
}

func (m *MemoryKV) LLen(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok, err := m.typedLocked(key, kindList)
	if err != nil || !ok {
		return 0, err
	}
	return int64(len(e.list)), nil
}

// listRange normalizes Redis-style inclusive indexes against a list of length n.
func listRange(start, stop, n int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}

func (m *MemoryKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tree.Insert(key, m.stringEntry(value, ttl))
	return nil
}

func (m *MemoryKV) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.lookupLocked(key); exists {
		return false, nil
	}
	m.tree.Insert(key, m.stringEntry(value, ttl))
	return true, nil
}

func (m *MemoryKV) stringEntry(value string, ttl time.Duration) *memEntry {
	e := &memEntry{kind: kindString, str: value}
	if ttl > 0 {
		e.expireAt = m.now().Add(ttl)
	}
	return e
}

func (m *MemoryKV) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok, err := m.typedLocked(key, kindString)
	if err != nil || !ok {
		return "", false, err
	}
	return e.str, true, nil
}

// MGet mirrors Redis: missing keys and keys of another type yield nil.
func (m *MemoryKV) MGet(ctx context.Context, keys ...string) ([]*string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	values := make([]*string, len(keys))
	for i, key := range keys {
		e, ok := m.lookupLocked(key)
		if !ok || e.kind != kindString {
			continue
		}
		s := e.str
		values[i] = &s
	}
	return values, nil
}

func (m *MemoryKV) Del(ctx context.Context, keys ...string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for _, key := range keys {
		if _, ok := m.lookupLocked(key); ok {
			m.tree.Delete(key)
			removed++
		}
	}
	return removed, nil
}

// Scan supports the glob syntax of path.Match. Patterns of the form
// "prefix*" are answered from the radix subtree without per-key matching.
func (m *MemoryKV) Scan(ctx context.Context, pattern string, count int64) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := literalPrefix(pattern)
	prefixOnly := pattern == prefix+"*"
	now := m.now()

	keys := make([]string, 0)
	var expired []string
	m.tree.WalkPrefix(prefix, func(key string, v interface{}) bool {
		if v.(*memEntry).expired(now) {
			expired = append(expired, key)
			return false
		}
		if prefixOnly || key == pattern {
			keys = append(keys, key)
			return false
		}
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
		return false
	})
	for _, key := range expired {
		m.tree.Delete(key)
	}
	return keys, nil
}

func literalPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, `*?[\`); i >= 0 {
		return pattern[:i]
	}
	return pattern
}

func (m *MemoryKV) DBSize(ctx context.Context) (int64, error) {
	keys, err := m.Scan(ctx, "*", 0)
	if err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

func (m *MemoryKV) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryKV) FlushDB(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tree = radix.New()
	return nil
}

func (m *MemoryKV) Close() error { return nil }

// Ensure MemoryKV implements the KV interface.
var _ ports.KV = (*MemoryKV)(nil)
