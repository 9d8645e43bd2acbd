package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FairForge/warden/internal/store"
)

// eventLog keeps the last N security events in a fixed-capacity ring
// and mirrors each event into the store under a per-event ttl. Events
// for one identity come out in the order they went in.
type eventLog struct {
	mu     sync.Mutex
	ring   []SecurityEvent
	next   int
	filled bool

	store  store.Store
	ttl    time.Duration
	logger *zap.Logger
	clock  store.Clock
}

func newEventLog(capacity int, s store.Store, ttl time.Duration, clock store.Clock, logger *zap.Logger) *eventLog {
	if capacity <= 0 {
		capacity = 1000
	}
	return &eventLog{
		ring:   make([]SecurityEvent, capacity),
		store:  s,
		ttl:    ttl,
		clock:  clock,
		logger: logger,
	}
}

// record appends an event. The store copy is best effort; a store
// failure never blocks the caller.
func (l *eventLog) record(ctx context.Context, event SecurityEvent) SecurityEvent {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.clock.Now()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	l.mu.Lock()
	l.ring[l.next] = event
	l.next++
	if l.next == len(l.ring) {
		l.next = 0
		l.filled = true
	}
	l.mu.Unlock()

	if l.store != nil {
		key := fmt.Sprintf("events:%s", event.ID)
		data, err := json.Marshal(event)
		if err == nil {
			err = l.store.Set(ctx, key, string(data), l.ttl)
		}
		if err != nil {
			l.logger.Warn("security event not persisted",
				zap.String("identity", event.Identity),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
		}
	}

	l.logger.Info("security event",
		zap.String("identity", event.Identity),
		zap.String("event_type", string(event.Type)),
		zap.String("severity", string(event.Severity)))

	return event
}

// recent returns up to n events, newest first.
func (l *eventLog) recent(n int) []SecurityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	if l.filled {
		size = len(l.ring)
	}
	if n <= 0 || n > size {
		n = size
	}

	events := make([]SecurityEvent, 0, n)
	for i := 0; i < n; i++ {
		idx := l.next - 1 - i
		if idx < 0 {
			idx += len(l.ring)
		}
		events = append(events, l.ring[idx])
	}
	return events
}

// forIdentity returns events for one identity in call order.
func (l *eventLog) forIdentity(identity string) []SecurityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	if l.filled {
		size = len(l.ring)
	}

	var events []SecurityEvent
	for i := 0; i < size; i++ {
		idx := l.next - size + i
		if idx < 0 {
			idx += len(l.ring)
		}
		if l.ring[idx].Identity == identity {
			events = append(events, l.ring[idx])
		}
	}
	return events
}
