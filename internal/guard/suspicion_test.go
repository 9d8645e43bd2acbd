package guard

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FairForge/warden/internal/config"
	"github.com/FairForge/warden/internal/store"
)

func TestUnusualCadence(t *testing.T) {
	ctx := context.Background()

	t.Run("identical intervals classify as unusual", func(t *testing.T) {
		g, _, clock := newTestGuard(t)

		base := clock.Now().Add(-time.Hour)
		for i := 0; i < 10; i++ {
			g.RecordActivity("u1", base.Add(time.Duration(i)*500*time.Millisecond))
		}

		// Only the regularity heuristic can fire here: activity is an
		// hour old (no volume), no commands, no latencies, no origin.
		assert.Equal(t, 20, g.CalculateSuspicionScore(ctx, "u1"))
	})

	t.Run("too few samples contribute nothing", func(t *testing.T) {
		g, _, clock := newTestGuard(t)

		base := clock.Now().Add(-time.Hour)
		for i := 0; i < 9; i++ {
			g.RecordActivity("u2", base.Add(time.Duration(i)*500*time.Millisecond))
		}
		assert.Equal(t, 0, g.CalculateSuspicionScore(ctx, "u2"))
	})

	t.Run("human-paced jitter is not unusual", func(t *testing.T) {
		g, _, clock := newTestGuard(t)

		// Widely spread intervals: variance well above the bound.
		base := clock.Now().Add(-time.Hour)
		at := base
		for i := 0; i < 20; i++ {
			at = at.Add(time.Duration(1+i*3) * time.Second)
			g.RecordActivity("u3", at)
		}
		assert.Equal(t, 0, g.CalculateSuspicionScore(ctx, "u3"))
	})
}

func TestVolumeHeuristic(t *testing.T) {
	ctx := context.Background()
	g, _, clock := newTestGuard(t)

	// 51 hits inside the short bucket, spaced irregularly enough to
	// dodge the regularity heuristic.
	at := clock.Now().Add(-30 * time.Second)
	for i := 0; i < 51; i++ {
		at = at.Add(time.Duration(100+(i%7)*150) * time.Millisecond)
		g.RecordActivity("burst", at)
	}
	assert.Equal(t, 30, g.CalculateSuspicionScore(ctx, "burst"))

	t.Run("bucket duration comes from config", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
		mem := store.NewMemory(store.WithClock(clock))
		cfg := config.Default().Guard
		cfg.Suspicion.VolumeWindow = 10 * time.Second
		g := New(cfg, mem, zap.NewNop(), WithGuardClock(clock))

		// Same burst as above, but a 10s window only sees its tail.
		at := clock.Now().Add(-30 * time.Second)
		for i := 0; i < 51; i++ {
			at = at.Add(time.Duration(100+(i%7)*150) * time.Millisecond)
			g.RecordActivity("burst", at)
		}
		assert.Equal(t, 0, g.CalculateSuspicionScore(ctx, "burst"))
	})
}

func TestBotLikelihood(t *testing.T) {
	ctx := context.Background()

	t.Run("repetition alone", func(t *testing.T) {
		g, _, _ := newTestGuard(t)
		for i := 0; i < 15; i++ {
			g.RecordCommand("r1", "snap_create")
		}
		assert.Equal(t, 25, g.CalculateSuspicionScore(ctx, "r1"))
	})

	t.Run("speed alone", func(t *testing.T) {
		g, _, _ := newTestGuard(t)
		for i := 0; i < 15; i++ {
			g.RecordLatency("s1", 50)
		}
		assert.Equal(t, 30, g.CalculateSuspicionScore(ctx, "s1"))
	})

	t.Run("varied commands at human speed score zero", func(t *testing.T) {
		g, _, _ := newTestGuard(t)
		for i := 0; i < 20; i++ {
			g.RecordCommand("h1", fmt.Sprintf("cmd-%d", i))
			g.RecordLatency("h1", 800)
		}
		assert.Equal(t, 0, g.CalculateSuspicionScore(ctx, "h1"))
	})

	t.Run("distinct count uses only the retained window", func(t *testing.T) {
		g, _, _ := newTestGuard(t)
		// 30 varied commands followed by 20 identical ones: the ring
		// keeps the last 20, so repetition fires.
		for i := 0; i < 30; i++ {
			g.RecordCommand("w1", fmt.Sprintf("cmd-%d", i))
		}
		for i := 0; i < 20; i++ {
			g.RecordCommand("w1", "snap_create")
		}
		assert.Equal(t, 25, g.CalculateSuspicionScore(ctx, "w1"))
	})
}

func TestSharedOriginHeuristic(t *testing.T) {
	ctx := context.Background()
	g, mem, _ := newTestGuard(t)

	g.RecordOrigin(ctx, "o1", "fp-x")
	assert.Equal(t, 0, g.CalculateSuspicionScore(ctx, "o1"), "lone origin is fine")

	for i := 0; i < 10; i++ {
		require.NoError(t, mem.AddToSet(ctx, "origin:fp-x", fmt.Sprintf("peer%d", i), 0))
	}
	assert.Equal(t, 40, g.CalculateSuspicionScore(ctx, "o1"), "crowded origin scores")
}

func TestMeanVariance(t *testing.T) {
	mean, variance := meanVariance([]float64{500, 500, 500, 500})
	assert.Equal(t, float64(500), mean)
	assert.Equal(t, float64(0), variance)

	mean, variance = meanVariance([]float64{100, 300})
	assert.Equal(t, float64(200), mean)
	assert.Equal(t, float64(10000), variance)

	mean, variance = meanVariance(nil)
	assert.Zero(t, mean)
	assert.Zero(t, variance)
}
