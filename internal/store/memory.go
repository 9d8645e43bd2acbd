package store

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// Memory is an in-process Store used in tests and single-node
// deployments. It honours the same ttl and counter-window semantics as
// the Postgres backend.
type Memory struct {
	mu    sync.Mutex
	kv    map[string]memoryEntry
	sets  map[string]map[string]time.Time
	clock Clock
}

// MemoryOption configures the memory store.
type MemoryOption func(*Memory)

// WithClock injects a clock for ttl arithmetic in tests.
func WithClock(c Clock) MemoryOption {
	return func(m *Memory) { m.clock = c }
}

// NewMemory creates an in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		kv:    make(map[string]memoryEntry),
		sets:  make(map[string]map[string]time.Time),
		clock: SystemClock(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && !e.expiresAt.After(m.clock.Now())
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.kv[key]
	if !ok || m.expired(e) {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.clock.Now().Add(ttl)
	}
	m.kv[key] = e
	return nil
}

func (m *Memory) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.kv[key]
	if !ok || m.expired(e) {
		e = memoryEntry{value: "1"}
		if ttl > 0 {
			e.expiresAt = m.clock.Now().Add(ttl)
		}
		m.kv[key] = e
		return 1, nil
	}

	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		n = 0
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	m.kv[key] = e
	return n, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.kv, key)
	return nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.kv[key]
	return ok && !m.expired(e), nil
}

func (m *Memory) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.kv[key]
	if !ok || m.expired(e) {
		return 0, ErrNotFound
	}
	if e.expiresAt.IsZero() {
		return 0, nil
	}
	return e.expiresAt.Sub(m.clock.Now()), nil
}

func (m *Memory) AddToSet(_ context.Context, key, member string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]time.Time)
		m.sets[key] = set
	}

	var expires time.Time
	if ttl > 0 {
		expires = m.clock.Now().Add(ttl)
	}
	set[member] = expires
	return nil
}

func (m *Memory) SetSize(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, expires := range m.sets[key] {
		if expires.IsZero() || expires.After(m.clock.Now()) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) SetMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var members []string
	for member, expires := range m.sets[key] {
		if expires.IsZero() || expires.After(m.clock.Now()) {
			members = append(members, member)
		}
	}
	sort.Strings(members)
	return members, nil
}

func (m *Memory) DeleteExpired(_ context.Context, prefix string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for key, e := range m.kv {
		if strings.HasPrefix(key, prefix) && m.expired(e) {
			delete(m.kv, key)
			deleted++
		}
	}
	for key, set := range m.sets {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		for member, expires := range set {
			if !expires.IsZero() && !expires.After(m.clock.Now()) {
				delete(set, member)
				deleted++
			}
		}
		if len(set) == 0 {
			delete(m.sets, key)
		}
	}
	return deleted, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
