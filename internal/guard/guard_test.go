package guard

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FairForge/warden/internal/config"
	"github.com/FairForge/warden/internal/store"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestGuard(t *testing.T) (*Guard, *store.Memory, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	mem := store.NewMemory(store.WithClock(clock))
	cfg := config.Default().Guard
	cfg.EncryptionKey = "test-key"
	g := New(cfg, mem, zap.NewNop(), WithGuardClock(clock))
	return g, mem, clock
}

func TestCheckRateLimit(t *testing.T) {
	ctx := context.Background()

	t.Run("default tier allows exactly the ceiling", func(t *testing.T) {
		g, _, _ := newTestGuard(t)

		for i := 0; i < 30; i++ {
			assert.False(t, g.CheckRateLimit(ctx, "u1", "snap_create"), "call %d", i+1)
		}
		assert.True(t, g.CheckRateLimit(ctx, "u1", "snap_create"), "31st call")

		events := g.EventsFor("u1")
		require.Len(t, events, 1)
		assert.Equal(t, EventTypeRateLimitExceeded, events[0].Type)
		assert.Equal(t, "snap_create", events[0].Details["action_class"])
	})

	t.Run("window lapse resets the counter", func(t *testing.T) {
		g, _, clock := newTestGuard(t)

		for i := 0; i < 30; i++ {
			g.CheckRateLimit(ctx, "u2", "login")
		}
		assert.True(t, g.CheckRateLimit(ctx, "u2", "login"))

		clock.Advance(61 * time.Second)
		assert.False(t, g.CheckRateLimit(ctx, "u2", "login"))
	})

	t.Run("premium tier from level hint", func(t *testing.T) {
		g, _, _ := newTestGuard(t)
		require.NoError(t, g.SetLevel(ctx, "vip", 5))

		for i := 0; i < 100; i++ {
			assert.False(t, g.CheckRateLimit(ctx, "vip", "snap_create"), "call %d", i+1)
		}
		assert.True(t, g.CheckRateLimit(ctx, "vip", "snap_create"))
	})

	t.Run("admin tier from admin set", func(t *testing.T) {
		g, mem, _ := newTestGuard(t)
		require.NoError(t, mem.AddToSet(ctx, "admin:members", "root", 0))

		for i := 0; i < 500; i++ {
			assert.False(t, g.CheckRateLimit(ctx, "root", "snap_create"), "call %d", i+1)
		}
		assert.True(t, g.CheckRateLimit(ctx, "root", "snap_create"))
	})

	t.Run("action classes count independently", func(t *testing.T) {
		g, _, _ := newTestGuard(t)

		for i := 0; i < 30; i++ {
			g.CheckRateLimit(ctx, "u3", "snap_create")
		}
		assert.True(t, g.CheckRateLimit(ctx, "u3", "snap_create"))
		assert.False(t, g.CheckRateLimit(ctx, "u3", "profile_edit"))
	})
}

func TestBanLifecycle(t *testing.T) {
	ctx := context.Background()
	g, _, clock := newTestGuard(t)

	assert.True(t, g.ValidateCaller(ctx, "u1"))

	require.NoError(t, g.BanUser(ctx, "u1", "abuse", 10*time.Second))
	assert.False(t, g.ValidateCaller(ctx, "u1"))

	reason, banned, err := g.BanReason(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, banned)
	assert.Equal(t, "abuse", reason)

	clock.Advance(9 * time.Second)
	assert.False(t, g.ValidateCaller(ctx, "u1"), "still inside the ban window")

	clock.Advance(2 * time.Second)
	assert.True(t, g.ValidateCaller(ctx, "u1"), "ban lapsed")

	require.NoError(t, g.BanUser(ctx, "u1", "again", time.Hour))
	assert.False(t, g.ValidateCaller(ctx, "u1"))
	require.NoError(t, g.UnbanUser(ctx, "u1"))
	assert.True(t, g.ValidateCaller(ctx, "u1"), "unban restores immediately")
}

func TestValidateCallerSuspicion(t *testing.T) {
	ctx := context.Background()
	g, mem, clock := newTestGuard(t)

	// Metronomic 500ms cadence + repetitive commands + fast responses +
	// crowded origin pushes the score past the deny threshold.
	base := clock.Now()
	for i := 0; i < 60; i++ {
		g.RecordActivity("bot1", base.Add(time.Duration(i)*500*time.Millisecond))
	}
	for i := 0; i < 20; i++ {
		g.RecordCommand("bot1", "snap_create")
		g.RecordLatency("bot1", 40)
	}
	g.RecordOrigin(ctx, "bot1", "fp-shared")
	for i := 0; i < 11; i++ {
		require.NoError(t, mem.AddToSet(ctx, "origin:fp-shared", fmt.Sprintf("sib%d", i), 0))
	}

	assert.GreaterOrEqual(t, g.CalculateSuspicionScore(ctx, "bot1"), 100)
	assert.False(t, g.ValidateCaller(ctx, "bot1"))

	// The flag persists for its ttl even if the behavior stops.
	assert.False(t, g.ValidateCaller(ctx, "bot1"))

	events := g.EventsFor("bot1")
	require.NotEmpty(t, events)
	assert.Equal(t, EventTypeSuspiciousFlagged, events[len(events)-1].Type)
}

// failingStore wraps Memory and fails every call, to exercise the
// fail-closed paths.
type failingStore struct {
	*store.Memory
}

var errDown = errors.New("store unavailable")

func (f *failingStore) Exists(context.Context, string) (bool, error) { return false, errDown }
func (f *failingStore) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errDown
}

func TestFailClosed(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default().Guard
	g := New(cfg, &failingStore{store.NewMemory()}, zap.NewNop())

	assert.False(t, g.ValidateCaller(ctx, "u1"), "store outage denies")
	assert.True(t, g.CheckRateLimit(ctx, "u1", "snap_create"), "store outage limits")
}

func TestEventRing(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	mem := store.NewMemory(store.WithClock(clock))
	cfg := config.Default().Guard
	cfg.EventBufferSize = 5
	g := New(cfg, mem, zap.NewNop(), WithGuardClock(clock))

	for i := 0; i < 8; i++ {
		require.NoError(t, g.BanUser(ctx, fmt.Sprintf("u%d", i), "r", time.Minute))
	}

	events := g.RecentEvents(10)
	require.Len(t, events, 5, "ring holds the last five")
	assert.Equal(t, "u7", events[0].Identity, "newest first")
	assert.Equal(t, "u3", events[4].Identity, "oldest surviving")
}

func TestCleanupExpiredEvents(t *testing.T) {
	ctx := context.Background()
	g, _, clock := newTestGuard(t)

	for i := 0; i < 50; i++ {
		require.NoError(t, g.BanUser(ctx, fmt.Sprintf("u%d", i), "abuse", time.Minute))
	}

	// The store copies carry the 7-day event ttl; sessions are not
	// involved, so only the event sweep reclaims them.
	clock.Advance(8 * 24 * time.Hour)

	deleted, err := g.CleanupExpiredEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(50), deleted)

	again, err := g.CleanupExpiredEvents(ctx)
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestCleanupExpiredSessions(t *testing.T) {
	ctx := context.Background()
	g, mem, clock := newTestGuard(t)

	require.NoError(t, mem.Set(ctx, "session:s1", "u1", time.Minute))
	require.NoError(t, mem.Set(ctx, "session:s2", "u2", time.Hour))
	clock.Advance(2 * time.Minute)

	deleted, err := g.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
