package health

import (
	"time"

	"github.com/google/uuid"
)

// Status is the composite verdict over all monitored dependencies.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusError     Status = "error"
)

// Check is the outcome of one dependency probe.
type Check struct {
	Name    string        `json:"name"`
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Detail  string        `json:"detail,omitempty"`
}

// Snapshot is one point-in-time composite health verdict.
type Snapshot struct {
	Timestamp time.Time          `json:"timestamp"`
	Overall   Status             `json:"overall_status"`
	Checks    map[string]Check   `json:"checks"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Resources *ResourceStats     `json:"resources,omitempty"`
}

// ResourceStats reports local resource usage at sample time.
type ResourceStats struct {
	MemoryUsedBytes  uint64  `json:"memory_used_bytes"`
	MemoryTotalBytes uint64  `json:"memory_total_bytes"`
	MemoryFraction   float64 `json:"memory_fraction"`
	ProcessBytes     uint64  `json:"process_bytes"`
	LoadAverage      float64 `json:"load_average"`
	CPUFraction      float64 `json:"cpu_fraction"`
	UptimeSeconds    int64   `json:"uptime_seconds"`
}

// Alert severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert is a persisted record of a threshold breach. Acknowledging
// removes it from the active set; the record is retained.
type Alert struct {
	ID             uuid.UUID `json:"id"`
	Type           string    `json:"type"`
	Severity       string    `json:"severity"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
	Acknowledged   bool      `json:"acknowledged"`
	AcknowledgedBy string    `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}
