package guard

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies a security event.
type EventType string

const (
	EventTypeRateLimitExceeded EventType = "rate_limit_exceeded"
	EventTypeValidationDenied  EventType = "validation_denied"
	EventTypeSuspiciousFlagged EventType = "suspicious_flagged"
	EventTypeUserBanned        EventType = "user_banned"
	EventTypeUserUnbanned      EventType = "user_unbanned"
	EventTypeEncryptionFailed  EventType = "encryption_failed"
)

// Severity of a security event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Tier names. Ceilings and windows come from configuration.
const (
	TierDefault = "default"
	TierPremium = "premium"
	TierAdmin   = "admin"
)

// SecurityEvent is an immutable record of one guard decision or state
// change for a caller identity.
type SecurityEvent struct {
	ID        uuid.UUID         `json:"id"`
	Identity  string            `json:"identity"`
	Type      EventType         `json:"event_type"`
	Details   map[string]string `json:"details,omitempty"`
	Severity  Severity          `json:"severity"`
	Timestamp time.Time         `json:"timestamp"`
}
