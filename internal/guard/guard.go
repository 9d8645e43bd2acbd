// Package guard gatekeeps inbound actions for caller identities: ban
// checks, suspicion scoring, and per-tier windowed rate limits backed
// by the shared store.
package guard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/warden/internal/config"
	"github.com/FairForge/warden/internal/store"
)

// Guard makes allow/deny decisions. All store failures on a decision
// path resolve to the deny branch.
type Guard struct {
	cfg     config.GuardConfig
	store   store.Store
	logger  *zap.Logger
	clock   store.Clock
	events  *eventLog
	history *historyBook
	crypto  *envelope
}

// Option configures the Guard.
type Option func(*Guard)

// WithGuardClock injects a clock for tests.
func WithGuardClock(c store.Clock) Option {
	return func(g *Guard) { g.clock = c }
}

// New creates an Access Guard over the shared store.
func New(cfg config.GuardConfig, s store.Store, logger *zap.Logger, opts ...Option) *Guard {
	g := &Guard{
		cfg:     cfg,
		store:   s,
		logger:  logger,
		clock:   store.SystemClock(),
		history: newHistoryBook(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.events = newEventLog(cfg.EventBufferSize, s, cfg.EventTTL, g.clock, logger)
	g.crypto = newEnvelope(cfg, logger)
	return g
}

// ValidateCaller decides whether an identity may act at all. It fails
// closed: any internal error on the decision path denies.
func (g *Guard) ValidateCaller(ctx context.Context, identity string) bool {
	banned, err := g.store.Exists(ctx, "banned:"+identity)
	if err != nil {
		g.logger.Error("ban check failed, denying", zap.String("identity", identity), zap.Error(err))
		return false
	}
	if banned {
		g.events.record(ctx, SecurityEvent{
			Identity: identity,
			Type:     EventTypeValidationDenied,
			Details:  map[string]string{"reason": "banned"},
			Severity: SeverityWarning,
		})
		return false
	}

	flagged, err := g.store.Exists(ctx, "suspicious:"+identity)
	if err != nil {
		g.logger.Error("flag check failed, denying", zap.String("identity", identity), zap.Error(err))
		return false
	}
	if flagged {
		return false
	}

	score := g.CalculateSuspicionScore(ctx, identity)
	if score >= g.cfg.Suspicion.DenyThreshold {
		if err := g.FlagSuspicious(ctx, identity, score); err != nil {
			g.logger.Error("flag write failed", zap.String("identity", identity), zap.Error(err))
		}
		return false
	}

	// Last-seen refresh is bookkeeping; it must not block the allow.
	key := "lastseen:" + identity
	if err := g.store.Set(ctx, key, g.clock.Now().UTC().Format(time.RFC3339), g.cfg.LastSeenTTL); err != nil {
		g.logger.Warn("last-seen refresh failed", zap.String("identity", identity), zap.Error(err))
	}

	return true
}

// CheckRateLimit increments the caller's windowed counter for the
// action class and reports whether the ceiling was exceeded
// (true = limited). Store failures report limited.
func (g *Guard) CheckRateLimit(ctx context.Context, identity, actionClass string) bool {
	tier := g.resolveTier(ctx, identity)
	limit, ok := g.cfg.Tiers[tier]
	if !ok {
		limit = g.cfg.Tiers[TierDefault]
	}

	key := fmt.Sprintf("rate:%s:%s", identity, actionClass)
	count, err := g.store.Incr(ctx, key, limit.Window)
	if err != nil {
		g.logger.Error("rate counter failed, limiting", zap.String("identity", identity), zap.Error(err))
		return true
	}

	if count > int64(limit.Ceiling) {
		g.events.record(ctx, SecurityEvent{
			Identity: identity,
			Type:     EventTypeRateLimitExceeded,
			Details: map[string]string{
				"action_class": actionClass,
				"tier":         tier,
				"count":        strconv.FormatInt(count, 10),
				"ceiling":      strconv.Itoa(limit.Ceiling),
			},
			Severity: SeverityWarning,
		})
		return true
	}

	return false
}

// resolveTier maps an identity to a tier: admin-set membership wins,
// then the collaborator-supplied level hint (>= premium level), else
// default. Lookup failures fall back to default.
func (g *Guard) resolveTier(ctx context.Context, identity string) string {
	for _, id := range g.cfg.AdminIDs {
		if id == identity {
			return TierAdmin
		}
	}
	members, err := g.store.SetMembers(ctx, g.cfg.AdminSetKey)
	if err != nil {
		g.logger.Warn("admin set lookup failed", zap.Error(err))
	}
	for _, m := range members {
		if m == identity {
			return TierAdmin
		}
	}

	if v, err := g.store.Get(ctx, "level:"+identity); err == nil {
		if level, err := strconv.Atoi(v); err == nil && level >= g.cfg.PremiumLevel {
			return TierPremium
		}
	}

	return TierDefault
}

// SetLevel records a collaborator-supplied tier level hint.
func (g *Guard) SetLevel(ctx context.Context, identity string, level int) error {
	return g.store.Set(ctx, "level:"+identity, strconv.Itoa(level), g.cfg.LastSeenTTL)
}

// FlagSuspicious marks an identity for the flag ttl and emits an event.
func (g *Guard) FlagSuspicious(ctx context.Context, identity string, score int) error {
	key := "suspicious:" + identity
	if err := g.store.Set(ctx, key, strconv.Itoa(score), g.cfg.FlagTTL); err != nil {
		return fmt.Errorf("flag identity: %w", err)
	}
	g.events.record(ctx, SecurityEvent{
		Identity: identity,
		Type:     EventTypeSuspiciousFlagged,
		Details:  map[string]string{"score": strconv.Itoa(score)},
		Severity: SeverityWarning,
	})
	return nil
}

// BanUser sets a time-boxed ban marker. A zero duration uses the
// configured default.
func (g *Guard) BanUser(ctx context.Context, identity, reason string, duration time.Duration) error {
	if duration <= 0 {
		duration = g.cfg.BanDuration
	}
	if err := g.store.Set(ctx, "banned:"+identity, reason, duration); err != nil {
		return fmt.Errorf("ban identity: %w", err)
	}
	g.events.record(ctx, SecurityEvent{
		Identity: identity,
		Type:     EventTypeUserBanned,
		Details: map[string]string{
			"reason":   reason,
			"duration": duration.String(),
		},
		Severity: SeverityCritical,
	})
	return nil
}

// UnbanUser clears the ban marker immediately.
func (g *Guard) UnbanUser(ctx context.Context, identity string) error {
	if err := g.store.Delete(ctx, "banned:"+identity); err != nil {
		return fmt.Errorf("unban identity: %w", err)
	}
	g.events.record(ctx, SecurityEvent{
		Identity: identity,
		Type:     EventTypeUserUnbanned,
		Severity: SeverityInfo,
	})
	return nil
}

// RecordActivity appends a collaborator-observed activity timestamp.
func (g *Guard) RecordActivity(identity string, at time.Time) {
	g.history.upsert(identity, g.clock.Now(), func(c *callerHistory) {
		c.activity = appendBounded(c.activity, at, activityHistorySize)
	})
}

// RecordCommand appends a collaborator-observed issued command.
func (g *Guard) RecordCommand(identity, command string) {
	g.history.upsert(identity, g.clock.Now(), func(c *callerHistory) {
		c.commands = appendBounded(c.commands, command, commandHistorySize)
	})
}

// RecordLatency appends a collaborator-observed response latency in
// milliseconds.
func (g *Guard) RecordLatency(identity string, latencyMillis float64) {
	g.history.upsert(identity, g.clock.Now(), func(c *callerHistory) {
		c.latencies = appendBounded(c.latencies, latencyMillis, latencyHistorySize)
	})
}

// RecordOrigin associates an identity with an origin fingerprint and
// indexes the fingerprint in the store for shared-origin scoring.
func (g *Guard) RecordOrigin(ctx context.Context, identity, fingerprint string) {
	g.history.upsert(identity, g.clock.Now(), func(c *callerHistory) {
		c.origin = fingerprint
	})
	if err := g.store.AddToSet(ctx, "origin:"+fingerprint, identity, g.cfg.LastSeenTTL); err != nil {
		g.logger.Warn("origin index update failed",
			zap.String("identity", identity), zap.Error(err))
	}
}

// RecentEvents returns up to n security events, newest first.
func (g *Guard) RecentEvents(n int) []SecurityEvent {
	return g.events.recent(n)
}

// EventsFor returns the retained events for one identity in call order.
func (g *Guard) EventsFor(identity string) []SecurityEvent {
	return g.events.forIdentity(identity)
}

// BanReason reports the reason for an active ban.
func (g *Guard) BanReason(ctx context.Context, identity string) (string, bool, error) {
	reason, err := g.store.Get(ctx, "banned:"+identity)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return reason, true, nil
}

// EncryptSensitiveData envelope-encrypts a small payload. On failure it
// logs, emits an event, and returns the payload unmodified.
func (g *Guard) EncryptSensitiveData(ctx context.Context, plaintext string) string {
	out, err := g.crypto.encrypt(plaintext)
	if err != nil {
		g.logger.Error("encryption failed, passing through", zap.Error(err))
		g.events.record(ctx, SecurityEvent{
			Type:     EventTypeEncryptionFailed,
			Details:  map[string]string{"op": "encrypt"},
			Severity: SeverityError,
		})
		return plaintext
	}
	return out
}

// DecryptSensitiveData reverses EncryptSensitiveData with the same
// fail-open behavior.
func (g *Guard) DecryptSensitiveData(ctx context.Context, ciphertext string) string {
	out, err := g.crypto.decrypt(ciphertext)
	if err != nil {
		g.logger.Error("decryption failed, passing through", zap.Error(err))
		g.events.record(ctx, SecurityEvent{
			Type:     EventTypeEncryptionFailed,
			Details:  map[string]string{"op": "decrypt"},
			Severity: SeverityError,
		})
		return ciphertext
	}
	return out
}

// CleanupExpiredSessions sweeps lapsed session keys and idle caller
// history. Run it on a timer separate from the request path.
func (g *Guard) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	deleted, err := g.store.DeleteExpired(ctx, "session:")
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	evicted := g.history.evictIdle(g.clock.Now(), g.cfg.LastSeenTTL)
	if deleted > 0 || evicted > 0 {
		g.logger.Debug("session sweep",
			zap.Int64("sessions_deleted", deleted),
			zap.Int("histories_evicted", evicted))
	}
	return deleted, nil
}

// CleanupExpiredEvents sweeps security event store copies whose ttl
// has lapsed.
func (g *Guard) CleanupExpiredEvents(ctx context.Context) (int64, error) {
	deleted, err := g.store.DeleteExpired(ctx, "events:")
	if err != nil {
		return 0, fmt.Errorf("sweep events: %w", err)
	}
	if deleted > 0 {
		g.logger.Debug("event sweep", zap.Int64("events_deleted", deleted))
	}
	return deleted, nil
}
