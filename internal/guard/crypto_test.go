package guard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FairForge/warden/internal/config"
	"github.com/FairForge/warden/internal/store"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	for _, algo := range []string{"aes-gcm", "chacha20-poly1305"} {
		t.Run(algo, func(t *testing.T) {
			cfg := config.Default().Guard
			cfg.EncryptionKey = "unit-test-key"
			cfg.EncryptionAlgo = algo
			g := New(cfg, store.NewMemory(), zap.NewNop())

			ctx := context.Background()
			sealed := g.EncryptSensitiveData(ctx, "+15551234567")
			require.NotEqual(t, "+15551234567", sealed)
			assert.Equal(t, "+15551234567", g.DecryptSensitiveData(ctx, sealed))
		})
	}
}

func TestEnvelopeFailOpen(t *testing.T) {
	cfg := config.Default().Guard // no key configured
	g := New(cfg, store.NewMemory(), zap.NewNop())
	ctx := context.Background()

	// Without a key the payload passes through unmodified and an
	// encryption_failed event is recorded.
	assert.Equal(t, "secret", g.EncryptSensitiveData(ctx, "secret"))
	assert.Equal(t, "garbage", g.DecryptSensitiveData(ctx, "garbage"))

	events := g.RecentEvents(10)
	require.Len(t, events, 2)
	assert.Equal(t, EventTypeEncryptionFailed, events[0].Type)
}

func TestDecryptRejectsTampering(t *testing.T) {
	cfg := config.Default().Guard
	cfg.EncryptionKey = "unit-test-key"
	g := New(cfg, store.NewMemory(), zap.NewNop())
	ctx := context.Background()

	sealed := g.EncryptSensitiveData(ctx, "payload")
	tampered := sealed[:len(sealed)-4] + "AAAA"

	// Tampered ciphertext fails auth and falls back to the input.
	assert.Equal(t, tampered, g.DecryptSensitiveData(ctx, tampered))
}
