// Package health polls the platform's dependencies on a timer, rolls
// the probe results into one composite snapshot, and manages the alert
// lifecycle for threshold breaches.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/warden/internal/config"
	"github.com/FairForge/warden/internal/store"
)

// Probe checks one dependency. A nil return means healthy.
type Probe func(ctx context.Context) error

// MetricsSource supplies the rolling counters the monitor derives
// performance metrics from.
type MetricsSource func() map[string]float64

// Monitor runs bounded-time dependency probes and keeps a rolling
// snapshot history. It runs on its own timer, never on the request
// path.
type Monitor struct {
	cfg    config.HealthConfig
	store  store.Store
	logger *zap.Logger
	clock  store.Clock
	client *http.Client

	mu      sync.RWMutex
	probes  map[string]Probe
	history []Snapshot
	source  MetricsSource

	alerts *alertBook
}

// MonitorOption configures the Monitor.
type MonitorOption func(*Monitor)

// WithMonitorClock injects a clock for tests.
func WithMonitorClock(c store.Clock) MonitorOption {
	return func(m *Monitor) { m.clock = c }
}

// WithHTTPClient overrides the probe client.
func WithHTTPClient(client *http.Client) MonitorOption {
	return func(m *Monitor) { m.client = client }
}

// NewMonitor creates a health monitor. The shared store probe is
// registered automatically; external API probes come from the config;
// further probes (databases, brokers) register via RegisterProbe.
func NewMonitor(cfg config.HealthConfig, s store.Store, notifier Notifier, logger *zap.Logger, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		cfg:    cfg,
		store:  s,
		logger: logger,
		clock:  store.SystemClock(),
		client: &http.Client{Timeout: cfg.ProbeTimeout},
		probes: make(map[string]Probe),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.alerts = newAlertBook(s, notifier, cfg.AlertRetention, m.clock, logger)

	m.RegisterProbe("shared_store", func(ctx context.Context) error {
		return s.Ping(ctx)
	})
	for _, probe := range cfg.Probes {
		m.RegisterProbe(probe.Name, m.httpProbe(probe))
	}

	return m
}

// RegisterProbe adds a named dependency probe.
func (m *Monitor) RegisterProbe(name string, probe Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[name] = probe
}

// SetMetricsSource wires the performance counters in.
func (m *Monitor) SetMetricsSource(source MetricsSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source = source
}

func (m *Monitor) httpProbe(probe config.ProbeConfig) Probe {
	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = m.cfg.ProbeTimeout
	}
	url := probe.URL
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build probe request: %w", err)
		}
		resp, err := m.client.Do(req)
		if err != nil {
			return fmt.Errorf("probe unreachable: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("probe returned %d", resp.StatusCode)
		}
		return nil
	}
}

// PerformHealthCheck runs every probe in parallel, each under its own
// timeout, samples local resources, and rolls the results into one
// snapshot. A panic inside the routine yields an error-status snapshot
// instead of propagating.
func (m *Monitor) PerformHealthCheck(ctx context.Context) (snapshot Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("health check panicked", zap.Any("panic", r))
			snapshot = Snapshot{
				Timestamp: m.clock.Now(),
				Overall:   StatusError,
				Checks:    map[string]Check{},
			}
			m.appendHistory(snapshot)
		}
	}()

	m.mu.RLock()
	probes := make(map[string]Probe, len(m.probes))
	for name, probe := range m.probes {
		probes[name] = probe
	}
	m.mu.RUnlock()

	checks := make(map[string]Check, len(probes)+1)
	var wg sync.WaitGroup
	var checksMu sync.Mutex

	for name, probe := range probes {
		wg.Add(1)
		go func(name string, probe Probe) {
			defer wg.Done()

			probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
			defer cancel()

			start := time.Now()
			done := make(chan error, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						done <- fmt.Errorf("probe panicked: %v", r)
					}
				}()
				done <- probe(probeCtx)
			}()

			var err error
			select {
			case err = <-done:
			case <-probeCtx.Done():
				err = fmt.Errorf("timeout after %v", m.cfg.ProbeTimeout)
			}

			check := Check{Name: name, Healthy: err == nil, Latency: time.Since(start)}
			if err != nil {
				check.Detail = err.Error()
			}

			checksMu.Lock()
			checks[name] = check
			checksMu.Unlock()
		}(name, probe)
	}
	wg.Wait()

	resources, resourceCheck := m.CheckSystemResources()
	checks[resourceCheck.Name] = resourceCheck

	var failed int
	for _, check := range checks {
		if !check.Healthy {
			failed++
		}
	}

	overall := StatusHealthy
	switch {
	case failed == 0:
	case failed <= 2:
		overall = StatusDegraded
	default:
		overall = StatusUnhealthy
	}

	snapshot = Snapshot{
		Timestamp: m.clock.Now(),
		Overall:   overall,
		Checks:    checks,
		Metrics:   m.CollectPerformanceMetrics(),
		Resources: resources,
	}

	m.appendHistory(snapshot)
	m.CheckHealthAlerts(ctx, snapshot)
	m.sweepRetention(ctx)
	return snapshot
}

// sweepRetention reclaims alert records past the retention window,
// both the in-process book and the lapsed health:* store keys.
func (m *Monitor) sweepRetention(ctx context.Context) {
	dropped := m.alerts.prune()

	deleted, err := m.store.DeleteExpired(ctx, "health:")
	if err != nil {
		m.logger.Warn("alert retention sweep failed", zap.Error(err))
	}
	if dropped > 0 || deleted > 0 {
		m.logger.Info("alert retention sweep",
			zap.Int("records_dropped", dropped),
			zap.Int64("store_keys_removed", deleted))
	}
}

// CheckSystemResources samples memory, load and uptime. Healthy iff
// memory fraction and cpu fraction are under the configured bounds.
func (m *Monitor) CheckSystemResources() (*ResourceStats, Check) {
	stats, err := sampleResources()
	if err != nil {
		m.logger.Warn("resource sampling failed", zap.Error(err))
		return nil, Check{Name: "resources", Healthy: false, Detail: err.Error()}
	}

	check := Check{Name: "resources", Healthy: true}
	if stats.MemoryFraction >= m.cfg.MemoryFraction {
		check.Healthy = false
		check.Detail = fmt.Sprintf("memory at %.0f%%", stats.MemoryFraction*100)
	}
	if stats.CPUFraction >= m.cfg.CPUFraction {
		check.Healthy = false
		check.Detail = fmt.Sprintf("cpu at %.0f%%", stats.CPUFraction*100)
	}
	return stats, check
}

// CollectPerformanceMetrics derives rolling averages from the wired
// metrics source. A failing source never fails the health check.
func (m *Monitor) CollectPerformanceMetrics() (metrics map[string]float64) {
	m.mu.RLock()
	source := m.source
	m.mu.RUnlock()

	if source == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("metrics collection failed", zap.Any("panic", r))
			metrics = nil
		}
	}()
	return source()
}

func (m *Monitor) appendHistory(snapshot Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, snapshot)
	if len(m.history) > m.cfg.HistorySize {
		m.history = m.history[len(m.history)-m.cfg.HistorySize:]
	}
}

// History returns snapshots from the last given hours, oldest first.
func (m *Monitor) History(hours int) []Snapshot {
	cutoff := m.clock.Now().Add(-time.Duration(hours) * time.Hour)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Snapshot
	for _, snapshot := range m.history {
		if snapshot.Timestamp.After(cutoff) {
			out = append(out, snapshot)
		}
	}
	return out
}

// Latest returns the most recent snapshot, if any.
func (m *Monitor) Latest() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.history) == 0 {
		return Snapshot{}, false
	}
	return m.history[len(m.history)-1], true
}

// ActiveAlerts returns unacknowledged alerts, oldest first.
func (m *Monitor) ActiveAlerts() []Alert {
	return m.alerts.active()
}

// AcknowledgeAlert marks an alert acknowledged. Acknowledging twice is
// a no-op that preserves the original acknowledger and time.
func (m *Monitor) AcknowledgeAlert(ctx context.Context, id string, by string) (Alert, error) {
	return m.alerts.acknowledge(ctx, id, by)
}

// Run executes the poll loop until the context is cancelled. It shares
// no execution context with request handling.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info("health monitor started", zap.Duration("interval", m.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopped")
			return
		case <-ticker.C:
			snapshot := m.PerformHealthCheck(ctx)
			m.logger.Debug("health tick", zap.String("status", string(snapshot.Overall)))
		}
	}
}
