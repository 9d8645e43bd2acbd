package health

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FairForge/warden/internal/config"
	"github.com/FairForge/warden/internal/store"
)

// Notifier delivers critical alerts to an external channel. Delivery
// is best effort; failures never affect alert persistence.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// WebhookNotifier posts alerts as JSON to a configured endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier. An empty URL yields a
// notifier that silently drops.
func NewWebhookNotifier(cfg config.NotifierConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:    cfg.WebhookURL,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, alert Alert) error {
	if n.url == "" {
		return nil
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notification rejected: %d", resp.StatusCode)
	}
	return nil
}

// alertBook holds every alert ever raised (until retention) plus the
// active (unacknowledged) set.
type alertBook struct {
	mu     sync.Mutex
	alerts map[string]*Alert
	order  []string // creation order
	open   map[string]struct{}

	store    store.Store
	notifier Notifier
	ttl      time.Duration
	clock    store.Clock
	logger   *zap.Logger
}

func newAlertBook(s store.Store, notifier Notifier, ttl time.Duration, clock store.Clock, logger *zap.Logger) *alertBook {
	return &alertBook{
		alerts:   make(map[string]*Alert),
		open:     make(map[string]struct{}),
		store:    s,
		notifier: notifier,
		ttl:      ttl,
		clock:    clock,
		logger:   logger,
	}
}

// CheckHealthAlerts compares a snapshot against the configured
// thresholds and processes an alert for every breach. Latency and cpu
// breaches are warnings; memory pressure and an unhealthy overall
// status are critical.
func (m *Monitor) CheckHealthAlerts(ctx context.Context, snapshot Snapshot) []Alert {
	var raised []Alert

	if ms, ok := snapshot.Metrics["mean_response_time_ms"]; ok {
		if time.Duration(ms)*time.Millisecond > m.cfg.MaxResponseTime {
			raised = append(raised, m.ProcessAlert(ctx, Alert{
				Type:     "high_response_time",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("mean response time %.0fms exceeds %v", ms, m.cfg.MaxResponseTime),
			}))
		}
	}

	if snapshot.Resources != nil {
		if snapshot.Resources.MemoryFraction >= m.cfg.MemoryFraction {
			raised = append(raised, m.ProcessAlert(ctx, Alert{
				Type:     "high_memory",
				Severity: SeverityCritical,
				Message:  fmt.Sprintf("memory at %.0f%% of capacity", snapshot.Resources.MemoryFraction*100),
			}))
		}
		if snapshot.Resources.CPUFraction >= m.cfg.CPUFraction {
			raised = append(raised, m.ProcessAlert(ctx, Alert{
				Type:     "high_cpu",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("cpu at %.0f%% of capacity", snapshot.Resources.CPUFraction*100),
			}))
		}
	}

	if snapshot.Overall == StatusUnhealthy || snapshot.Overall == StatusError {
		raised = append(raised, m.ProcessAlert(ctx, Alert{
			Type:     "system_unhealthy",
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("overall status %s", snapshot.Overall),
		}))
	}

	return raised
}

// ProcessAlert persists the alert, adds it to the active set, logs it,
// and fires a best-effort notification.
func (m *Monitor) ProcessAlert(ctx context.Context, alert Alert) Alert {
	return m.alerts.process(ctx, alert)
}

func (b *alertBook) process(ctx context.Context, alert Alert) Alert {
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = b.clock.Now()
	}

	b.mu.Lock()
	id := alert.ID.String()
	b.alerts[id] = &alert
	b.order = append(b.order, id)
	b.open[id] = struct{}{}
	b.mu.Unlock()

	if err := b.persist(ctx, alert); err != nil {
		b.logger.Error("alert not persisted", zap.String("alert_id", id), zap.Error(err))
	}

	b.logger.Warn("health alert",
		zap.String("alert_id", id),
		zap.String("type", alert.Type),
		zap.String("severity", alert.Severity),
		zap.String("message", alert.Message))

	if b.notifier != nil {
		if err := b.notifier.Notify(ctx, alert); err != nil {
			b.logger.Warn("alert notification failed", zap.String("alert_id", id), zap.Error(err))
		}
	}

	return alert
}

func (b *alertBook) persist(ctx context.Context, alert Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := b.store.Set(ctx, "health:alert:"+alert.ID.String(), string(data), b.ttl); err != nil {
		return fmt.Errorf("persist alert: %w", err)
	}
	return nil
}

// prune drops acknowledged alerts past the retention window. Open
// alerts stay regardless of age.
func (b *alertBook) prune() int {
	cutoff := b.clock.Now().Add(-b.ttl)

	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.order[:0]
	var dropped int
	for _, id := range b.order {
		if _, isOpen := b.open[id]; !isOpen && b.alerts[id].CreatedAt.Before(cutoff) {
			delete(b.alerts, id)
			dropped++
			continue
		}
		kept = append(kept, id)
	}
	b.order = kept
	return dropped
}

func (b *alertBook) active() []Alert {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Alert, 0, len(b.open))
	for _, id := range b.order {
		if _, ok := b.open[id]; ok {
			out = append(out, *b.alerts[id])
		}
	}
	return out
}

func (b *alertBook) acknowledge(ctx context.Context, id, by string) (Alert, error) {
	b.mu.Lock()
	alert, ok := b.alerts[id]
	if !ok {
		b.mu.Unlock()
		return Alert{}, fmt.Errorf("alert %s not found", id)
	}
	if alert.Acknowledged {
		out := *alert
		b.mu.Unlock()
		return out, nil
	}
	now := b.clock.Now()
	alert.Acknowledged = true
	alert.AcknowledgedBy = by
	alert.AcknowledgedAt = &now
	delete(b.open, id)
	out := *alert
	b.mu.Unlock()

	if err := b.persist(ctx, out); err != nil {
		b.logger.Error("acknowledgment not persisted", zap.String("alert_id", id), zap.Error(err))
	}
	return out, nil
}
