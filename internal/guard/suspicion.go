package guard

import (
	"context"

	"go.uber.org/zap"
)

// CalculateSuspicionScore sums independent heuristic contributions for
// an identity. The score is ephemeral; only a crossing of the deny
// threshold persists (as the suspicious flag). Never negative,
// unbounded above.
func (g *Guard) CalculateSuspicionScore(ctx context.Context, identity string) int {
	h := g.history.snapshot(identity)
	var score int

	if g.recentVolume(h) > g.cfg.Suspicion.VolumeThreshold {
		score += g.cfg.Suspicion.VolumeWeight
	}
	if g.unusualCadence(h) {
		score += g.cfg.Suspicion.RegularityWeight
	}
	score += g.botLikelihood(h)
	if g.sharedOrigin(ctx, h) {
		score += g.cfg.Suspicion.OriginWeight
	}

	if score > 0 {
		g.logger.Debug("suspicion score",
			zap.String("identity", identity), zap.Int("score", score))
	}
	return score
}

// recentVolume counts activity records inside the short bucket.
func (g *Guard) recentVolume(h callerHistory) int {
	cutoff := g.clock.Now().Add(-g.cfg.Suspicion.VolumeWindow)
	var n int
	for _, at := range h.activity {
		if at.After(cutoff) {
			n++
		}
	}
	return n
}

// unusualCadence reports a very regular, very fast activity rhythm:
// over the retained activity timestamps (at least the configured
// minimum), the inter-arrival intervals show variance below the
// configured bound AND a mean below the configured bound, both in
// milliseconds.
func (g *Guard) unusualCadence(h callerHistory) bool {
	s := g.cfg.Suspicion
	if len(h.activity) < s.RegularityMinSamples {
		return false
	}

	intervals := make([]float64, 0, len(h.activity)-1)
	for i := 1; i < len(h.activity); i++ {
		intervals = append(intervals, float64(h.activity[i].Sub(h.activity[i-1]).Milliseconds()))
	}

	mean, variance := meanVariance(intervals)
	return variance < s.RegularityMaxVariance && mean < s.RegularityMaxMean
}

// botLikelihood combines command repetition and response speed, up to
// RepetitionWeight+SpeedWeight.
func (g *Guard) botLikelihood(h callerHistory) int {
	s := g.cfg.Suspicion
	var score int

	if len(h.commands) >= s.BotMinSamples {
		distinct := make(map[string]struct{}, len(h.commands))
		for _, c := range h.commands {
			distinct[c] = struct{}{}
		}
		if len(distinct) < s.RepetitionMinDistinct {
			score += s.RepetitionWeight
		}
	}

	if len(h.latencies) >= s.BotMinSamples {
		mean, _ := meanVariance(h.latencies)
		if mean < s.SpeedMaxMeanLatency {
			score += s.SpeedWeight
		}
	}

	return score
}

// sharedOrigin reports whether the identity's origin fingerprint is
// shared by more than the configured number of identities. Store
// failures contribute nothing (best-effort heuristic, not a decision).
func (g *Guard) sharedOrigin(ctx context.Context, h callerHistory) bool {
	if h.origin == "" {
		return false
	}
	n, err := g.store.SetSize(ctx, "origin:"+h.origin)
	if err != nil {
		g.logger.Warn("origin lookup failed", zap.Error(err))
		return false
	}
	return n > int64(g.cfg.Suspicion.OriginThreshold)
}

func meanVariance(values []float64) (mean, variance float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, variance
}
