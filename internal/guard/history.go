package guard

import (
	"sync"
	"time"
)

const (
	activityHistorySize = 100
	commandHistorySize  = 20
	latencyHistorySize  = 20
)

// callerHistory holds the collaborator-supplied behavioral record for
// one identity. The guard does not observe traffic itself; workflows
// feed these via the Record* methods.
type callerHistory struct {
	activity  []time.Time
	commands  []string
	latencies []float64
	origin    string
	lastSeen  time.Time
}

func appendBounded[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if len(s) > limit {
		s = s[len(s)-limit:]
	}
	return s
}

type historyBook struct {
	mu      sync.RWMutex
	callers map[string]*callerHistory
}

func newHistoryBook() *historyBook {
	return &historyBook{callers: make(map[string]*callerHistory)}
}

func (h *historyBook) upsert(identity string, now time.Time, fn func(*callerHistory)) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.callers[identity]
	if !ok {
		c = &callerHistory{}
		h.callers[identity] = c
	}
	c.lastSeen = now
	fn(c)
}

// snapshot copies the slices so scoring never races with feeders.
func (h *historyBook) snapshot(identity string) callerHistory {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.callers[identity]
	if !ok {
		return callerHistory{}
	}
	out := callerHistory{
		activity:  append([]time.Time(nil), c.activity...),
		commands:  append([]string(nil), c.commands...),
		latencies: append([]float64(nil), c.latencies...),
		origin:    c.origin,
		lastSeen:  c.lastSeen,
	}
	return out
}

// evictIdle drops identities not seen within the ttl and returns how
// many were removed.
func (h *historyBook) evictIdle(now time.Time, ttl time.Duration) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	var evicted int
	for identity, c := range h.callers {
		if now.Sub(c.lastSeen) > ttl {
			delete(h.callers, identity)
			evicted++
		}
	}
	return evicted
}
