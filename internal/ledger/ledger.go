// Package ledger keeps the append-only audit trail, generates
// compliance reports from it, and tracks privacy request tickets.
// Every detail value is sanitized before it ever touches the store.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FairForge/warden/internal/config"
	"github.com/FairForge/warden/internal/store"
)

// Ledger is the audit and compliance service. One instance per
// process, constructed at startup with a store handle.
type Ledger struct {
	cfg    config.LedgerConfig
	store  store.Store
	logger *zap.Logger
	clock  store.Clock

	mu      sync.Mutex
	entries []AuditEntry           // global ledger, oldest first, FIFO-capped
	base    int                    // count of entries evicted so far
	byID    map[string][]uuid.UUID // per-identity entry ids, call order
	index   map[uuid.UUID]int      // id -> absolute sequence; position is seq-base
}

// Option configures the Ledger.
type Option func(*Ledger)

// WithLedgerClock injects a clock for tests.
func WithLedgerClock(c store.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// New creates the ledger service.
func New(cfg config.LedgerConfig, s store.Store, logger *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		cfg:    cfg,
		store:  s,
		logger: logger,
		clock:  store.SystemClock(),
		byID:   make(map[string][]uuid.UUID),
		index:  make(map[uuid.UUID]int),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.cfg.MaxEntries <= 0 {
		l.cfg.MaxEntries = 100000
	}
	return l
}

// LogAction records an action against the ledger. Detail values are
// redacted, origin and client signature are hashed, and the entry is
// persisted under the retention window. Persistence is best effort:
// a store failure is logged, never surfaced, and the in-memory ledger
// keeps the entry either way.
func (l *Ledger) LogAction(ctx context.Context, identity, action string, details map[string]interface{}, src Source) AuditEntry {
	entry := AuditEntry{
		ID:        uuid.New(),
		Identity:  identity,
		Action:    action,
		Details:   sanitize(details),
		Timestamp: l.clock.Now(),
		SessionID: src.SessionID,
	}
	if src.Origin != "" {
		entry.OriginHash = l.hash(src.Origin)
	}
	if src.Agent != "" {
		entry.AgentHash = l.hash(src.Agent)
	}

	l.append(entry)

	if err := l.persist(ctx, entry); err != nil {
		l.logger.Warn("audit entry not persisted",
			zap.String("identity", identity),
			zap.String("action", action),
			zap.Error(err))
	}
	return entry
}

func (l *Ledger) hash(value string) string {
	sum := sha256.Sum256([]byte(l.cfg.HashSalt + value))
	return hex.EncodeToString(sum[:])
}

func (l *Ledger) append(entry AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) >= l.cfg.MaxEntries {
		delete(l.index, l.entries[0].ID)
		l.entries = l.entries[1:]
		l.base++
	}
	l.index[entry.ID] = l.base + len(l.entries)
	l.entries = append(l.entries, entry)
	l.byID[entry.Identity] = append(l.byID[entry.Identity], entry.ID)
}

func (l *Ledger) persist(ctx context.Context, entry AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	key := fmt.Sprintf("audit:%s:%s", entry.Identity, entry.ID)
	if err := l.store.Set(ctx, key, string(data), l.cfg.Retention); err != nil {
		return fmt.Errorf("persist audit entry: %w", err)
	}
	return nil
}

// AuditLog returns up to limit entries for the identity, newest first.
func (l *Ledger) AuditLog(_ context.Context, identity string, limit int) []AuditEntry {
	if limit <= 0 {
		limit = 100
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ids := l.byID[identity]
	out := make([]AuditEntry, 0, limit)
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		seq, ok := l.index[ids[i]]
		if !ok {
			continue // evicted from the global ledger
		}
		out = append(out, l.entries[seq-l.base])
	}
	return out
}

// snapshotWindow copies the entries inside [start, end] so report
// generation never holds the lock while it computes.
func (l *Ledger) snapshotWindow(start, end time.Time) []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []AuditEntry
	for _, entry := range l.entries {
		if entry.Timestamp.Before(start) || entry.Timestamp.After(end) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// CleanupOldLogs sweeps expired audit keys from the store and drops
// in-memory entries past the retention window. Returns the number of
// store keys removed.
func (l *Ledger) CleanupOldLogs(ctx context.Context) (int64, error) {
	removed, err := l.store.DeleteExpired(ctx, "audit:")
	if err != nil {
		return 0, fmt.Errorf("sweep audit keys: %w", err)
	}
	ticketsRemoved, err := l.store.DeleteExpired(ctx, "privacy:")
	if err != nil {
		return 0, fmt.Errorf("sweep privacy keys: %w", err)
	}
	removed += ticketsRemoved

	cutoff := l.clock.Now().Add(-l.cfg.Retention)

	l.mu.Lock()
	var keep int
	for keep < len(l.entries) && !l.entries[keep].Timestamp.After(cutoff) {
		delete(l.index, l.entries[keep].ID)
		keep++
	}
	if keep > 0 {
		l.entries = l.entries[keep:]
		l.base += keep
		for identity, ids := range l.byID {
			live := ids[:0]
			for _, id := range ids {
				if _, ok := l.index[id]; ok {
					live = append(live, id)
				}
			}
			if len(live) == 0 {
				delete(l.byID, identity)
			} else {
				l.byID[identity] = live
			}
		}
	}
	l.mu.Unlock()

	if removed > 0 || keep > 0 {
		l.logger.Info("audit retention sweep",
			zap.Int64("store_keys_removed", removed),
			zap.Int("entries_dropped", keep))
	}
	return removed, nil
}

// Run executes the retention sweep until the context is cancelled.
func (l *Ledger) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	l.logger.Info("ledger sweep started", zap.Duration("interval", l.cfg.SweepInterval))
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("ledger sweep stopped")
			return
		case <-ticker.C:
			if _, err := l.CleanupOldLogs(ctx); err != nil {
				l.logger.Warn("retention sweep failed", zap.Error(err))
			}
		}
	}
}
