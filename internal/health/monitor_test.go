package health

import (
	"context"
	"encoding/json"
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

type captureNotifier struct {
	alerts []Alert
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, alert Alert) error {
	c.alerts = append(c.alerts, alert)
	return c.err
}

func newTestMonitor(t *testing.T) (*Monitor, *captureNotifier, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	mem := store.NewMemory(store.WithClock(clock))

	cfg := config.Default().Health
	cfg.ProbeTimeout = time.Second
	cfg.HistorySize = 5
	// Out of reach so the resources check never trips on the test host.
	cfg.MemoryFraction = 2.0
	cfg.CPUFraction = 2.0

	notifier := &captureNotifier{}
	m := NewMonitor(cfg, mem, notifier, zap.NewNop(), WithMonitorClock(clock))
	return m, notifier, clock
}

func registerProbes(m *Monitor, total, failing int) {
	for i := 0; i < total; i++ {
		ok := i >= failing
		name := fmt.Sprintf("dep-%d", i)
		m.RegisterProbe(name, func(context.Context) error {
			if ok {
				return nil
			}
			return errors.New("connection refused")
		})
	}
}

func TestPerformHealthCheckAllHealthy(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	registerProbes(m, 5, 0)

	snap := m.PerformHealthCheck(context.Background())
	assert.Equal(t, StatusHealthy, snap.Overall)
	// 5 registered + shared_store + resources.
	assert.Len(t, snap.Checks, 7)
	for name, check := range snap.Checks {
		assert.True(t, check.Healthy, name)
	}
}

func TestPerformHealthCheckDegraded(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	registerProbes(m, 5, 1)

	snap := m.PerformHealthCheck(context.Background())
	assert.Equal(t, StatusDegraded, snap.Overall)
	assert.False(t, snap.Checks["dep-0"].Healthy)
	assert.Contains(t, snap.Checks["dep-0"].Detail, "connection refused")
}

func TestPerformHealthCheckUnhealthy(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	registerProbes(m, 5, 3)

	snap := m.PerformHealthCheck(context.Background())
	assert.Equal(t, StatusUnhealthy, snap.Overall)
}

func TestProbePanicDoesNotCrash(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	m.RegisterProbe("flaky", func(context.Context) error {
		panic("boom")
	})

	snap := m.PerformHealthCheck(context.Background())
	require.Contains(t, snap.Checks, "flaky")
	assert.False(t, snap.Checks["flaky"].Healthy)
	assert.Contains(t, snap.Checks["flaky"].Detail, "panicked")
}

func TestProbeTimeout(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	m.cfg.ProbeTimeout = 20 * time.Millisecond
	m.RegisterProbe("slow", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(time.Second)
		return nil
	})

	snap := m.PerformHealthCheck(context.Background())
	assert.False(t, snap.Checks["slow"].Healthy)
	assert.Contains(t, snap.Checks["slow"].Detail, "timeout")
}

func TestHistoryCapAndWindow(t *testing.T) {
	m, _, clock := newTestMonitor(t)
	registerProbes(m, 1, 0)

	for i := 0; i < 8; i++ {
		m.PerformHealthCheck(context.Background())
		clock.Advance(time.Hour)
	}

	all := m.History(24)
	assert.Len(t, all, 5, "history capped at HistorySize")

	recent := m.History(3)
	assert.Len(t, recent, 2)

	latest, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, all[len(all)-1].Timestamp, latest.Timestamp)
}

func TestCheckHealthAlertsThresholds(t *testing.T) {
	m, notifier, _ := newTestMonitor(t)

	snap := Snapshot{
		Overall: StatusUnhealthy,
		Metrics: map[string]float64{"mean_response_time_ms": 9000},
		Resources: &ResourceStats{
			MemoryFraction: 0.95,
			CPUFraction:    0.90,
		},
	}
	// Restore real thresholds for this test.
	m.cfg.MemoryFraction = 0.85
	m.cfg.CPUFraction = 0.80

	raised := m.CheckHealthAlerts(context.Background(), snap)
	require.Len(t, raised, 4)

	bySeverity := map[string]string{}
	for _, alert := range raised {
		bySeverity[alert.Type] = alert.Severity
	}
	assert.Equal(t, SeverityWarning, bySeverity["high_response_time"])
	assert.Equal(t, SeverityCritical, bySeverity["high_memory"])
	assert.Equal(t, SeverityWarning, bySeverity["high_cpu"])
	assert.Equal(t, SeverityCritical, bySeverity["system_unhealthy"])

	assert.Len(t, notifier.alerts, 4, "every alert notified")
	assert.Len(t, m.ActiveAlerts(), 4)
}

func TestCheckHealthAlertsQuietWhenHealthy(t *testing.T) {
	m, notifier, _ := newTestMonitor(t)

	snap := Snapshot{
		Overall:   StatusHealthy,
		Metrics:   map[string]float64{"mean_response_time_ms": 120},
		Resources: &ResourceStats{MemoryFraction: 0.10, CPUFraction: 0.05},
	}
	raised := m.CheckHealthAlerts(context.Background(), snap)
	assert.Empty(t, raised)
	assert.Empty(t, notifier.alerts)
}

func TestAcknowledgeAlertIdempotent(t *testing.T) {
	m, _, clock := newTestMonitor(t)

	alert := m.ProcessAlert(context.Background(), Alert{
		Type:     "high_memory",
		Severity: SeverityCritical,
		Message:  "memory at 95% of capacity",
	})
	require.Len(t, m.ActiveAlerts(), 1)

	first, err := m.AcknowledgeAlert(context.Background(), alert.ID.String(), "ops-a")
	require.NoError(t, err)
	assert.True(t, first.Acknowledged)
	assert.Equal(t, "ops-a", first.AcknowledgedBy)
	assert.Empty(t, m.ActiveAlerts())

	clock.Advance(time.Hour)

	second, err := m.AcknowledgeAlert(context.Background(), alert.ID.String(), "ops-b")
	require.NoError(t, err)
	assert.Equal(t, "ops-a", second.AcknowledgedBy, "original acknowledger preserved")
	assert.Equal(t, first.AcknowledgedAt, second.AcknowledgedAt)

	_, err = m.AcknowledgeAlert(context.Background(), "no-such-alert", "ops-a")
	assert.Error(t, err)
}

func TestAlertRetentionSweep(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	mem := store.NewMemory(store.WithClock(clock))

	cfg := config.Default().Health
	cfg.ProbeTimeout = time.Second
	cfg.MemoryFraction = 2.0
	cfg.CPUFraction = 2.0
	cfg.AlertRetention = time.Hour
	m := NewMonitor(cfg, mem, nil, zap.NewNop(), WithMonitorClock(clock))

	for i := 0; i < 20; i++ {
		alert := m.ProcessAlert(ctx, Alert{
			Type:     "high_cpu",
			Severity: SeverityWarning,
			Message:  "cpu at 90% of capacity",
		})
		_, err := m.AcknowledgeAlert(ctx, alert.ID.String(), "ops-a")
		require.NoError(t, err)
	}
	open := m.ProcessAlert(ctx, Alert{
		Type:     "system_unhealthy",
		Severity: SeverityCritical,
		Message:  "overall status unhealthy",
	})

	clock.Advance(48 * time.Hour)
	m.PerformHealthCheck(ctx)

	m.alerts.mu.Lock()
	records, order := len(m.alerts.alerts), len(m.alerts.order)
	m.alerts.mu.Unlock()
	assert.Equal(t, 1, records, "acknowledged alerts past retention dropped")
	assert.Equal(t, 1, order)

	active := m.ActiveAlerts()
	require.Len(t, active, 1, "open alert survives retention")
	assert.Equal(t, open.ID, active[0].ID)

	// The tick already reclaimed the lapsed store copies.
	deleted, err := mem.DeleteExpired(ctx, "health:")
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestAlertSerializationOmitsUnacknowledgedTime(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMonitor(t)

	alert := m.ProcessAlert(ctx, Alert{
		Type:     "high_cpu",
		Severity: SeverityWarning,
		Message:  "cpu at 90% of capacity",
	})
	data, err := json.Marshal(alert)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "acknowledged_at")

	acked, err := m.AcknowledgeAlert(ctx, alert.ID.String(), "ops-a")
	require.NoError(t, err)
	data, err = json.Marshal(acked)
	require.NoError(t, err)
	assert.Contains(t, string(data), "acknowledged_at")
}

func TestNotifierFailureDoesNotBlockAlert(t *testing.T) {
	m, notifier, _ := newTestMonitor(t)
	notifier.err = errors.New("webhook down")

	m.ProcessAlert(context.Background(), Alert{
		Type:     "system_unhealthy",
		Severity: SeverityCritical,
		Message:  "overall status unhealthy",
	})
	assert.Len(t, m.ActiveAlerts(), 1, "alert retained despite delivery failure")
}

func TestCollectPerformanceMetricsRecovers(t *testing.T) {
	m, _, _ := newTestMonitor(t)

	m.SetMetricsSource(func() map[string]float64 {
		panic("counter backend gone")
	})
	assert.Nil(t, m.CollectPerformanceMetrics())

	m.SetMetricsSource(func() map[string]float64 {
		return map[string]float64{"requests_per_minute": 42}
	})
	metrics := m.CollectPerformanceMetrics()
	assert.Equal(t, 42.0, metrics["requests_per_minute"])
}
