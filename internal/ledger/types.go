package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Supported regulations.
const (
	RegulationGDPR  = "gdpr"
	RegulationCCPA  = "ccpa"
	RegulationCOPPA = "coppa"
)

// Violation types.
const (
	ViolationRetention       = "retention_violation"
	ViolationConsent         = "consent_violation"
	ViolationOptOut          = "opt_out_violation"
	ViolationMinorProtection = "minor_protection_violation"
)

// Violation severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// AuditEntry is one append-only record of a caller action. All detail
// values are sanitized before the entry is constructed; origin and
// client signature are stored as salted one-way hashes, never raw.
type AuditEntry struct {
	ID         uuid.UUID         `json:"id"`
	Identity   string            `json:"identity"`
	Action     string            `json:"action"`
	Details    map[string]string `json:"details,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	OriginHash string            `json:"origin_hash,omitempty"`
	AgentHash  string            `json:"agent_hash,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
}

// Source carries the request attributes that get hashed or copied onto
// an AuditEntry.
type Source struct {
	Origin    string
	Agent     string
	SessionID string
}

// Violation is one regulation breach found in the audited window.
type Violation struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Count       int    `json:"count"`
	Description string `json:"description"`
}

// Recommendation is the remediation advice attached to a violation
// type.
type Recommendation struct {
	Priority    string `json:"priority"`
	Action      string `json:"action"`
	Timeline    string `json:"timeline"`
	Description string `json:"description"`
}

// ComplianceReport aggregates the global ledger over a window for one
// regulation.
type ComplianceReport struct {
	ID              uuid.UUID          `json:"id"`
	Regulation      string             `json:"regulation"`
	PeriodStart     time.Time          `json:"period_start"`
	PeriodEnd       time.Time          `json:"period_end"`
	GeneratedAt     time.Time          `json:"generated_at"`
	Metrics         map[string]float64 `json:"metrics"`
	Violations      []Violation        `json:"violations"`
	Recommendations []Recommendation   `json:"recommendations"`
}

// Ticket types.
const (
	TicketDeletion = "deletion"
	TicketAccess   = "access"
)

// Ticket tracks a privacy request. Cross-system execution is delegated
// to external collaborators; the ticket records the commitment.
type Ticket struct {
	ID                  uuid.UUID `json:"id"`
	Identity            string    `json:"identity"`
	Type                string    `json:"type"`
	Status              string    `json:"status"`
	RequestedAt         time.Time `json:"requested_at"`
	EstimatedCompletion time.Time `json:"estimated_completion"`
}
