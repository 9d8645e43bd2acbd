package api

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the API. Each server
// carries its own registry so tests never collide on registration.
type Metrics struct {
	RequestCounter   *prometheus.CounterVec
	LatencyHistogram *prometheus.HistogramVec
	RateLimitHits    *prometheus.CounterVec
	GuardDenials     *prometheus.CounterVec

	registry *prometheus.Registry
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		RequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		LatencyHistogram: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		RateLimitHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_rate_limit_hits_total",
				Help: "Requests rejected by the burst smoother",
			},
			[]string{"remote"},
		),
		GuardDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_guard_denials_total",
				Help: "Access guard deny decisions by kind",
			},
			[]string{"kind"},
		),
		registry: registry,
	}

	registry.MustRegister(m.RequestCounter, m.LatencyHistogram, m.RateLimitHits, m.GuardDenials)
	return m
}

// Source derives the health monitor's performance metrics from the
// collected series: mean request duration in milliseconds and the
// request total. Nil until the first request is observed.
func (m *Metrics) Source() map[string]float64 {
	families, err := m.registry.Gather()
	if err != nil {
		return nil
	}

	out := make(map[string]float64)
	for _, family := range families {
		switch family.GetName() {
		case "warden_request_duration_seconds":
			var sum float64
			var count uint64
			for _, metric := range family.GetMetric() {
				h := metric.GetHistogram()
				sum += h.GetSampleSum()
				count += h.GetSampleCount()
			}
			if count > 0 {
				out["mean_response_time_ms"] = sum / float64(count) * 1000
			}
		case "warden_requests_total":
			var total float64
			for _, metric := range family.GetMetric() {
				total += metric.GetCounter().GetValue()
			}
			out["requests_total"] = total
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
