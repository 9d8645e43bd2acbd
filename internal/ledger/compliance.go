package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// regulationRules captures what each regulation cares about. The
// retention limit governs the retention check; the minor age governs
// the guardian-consent check.
type regulationRules struct {
	retention    time.Duration
	checkConsent bool
	checkOptOut  bool
	minorAge     int // 0 disables the minor-protection check
}

var regulations = map[string]regulationRules{
	RegulationGDPR:  {retention: 365 * 24 * time.Hour, checkConsent: true, minorAge: 16},
	RegulationCCPA:  {retention: 365 * 24 * time.Hour, checkOptOut: true},
	RegulationCOPPA: {retention: 365 * 24 * time.Hour, checkConsent: true, minorAge: 13},
}

var recommendations = map[string]Recommendation{
	ViolationRetention: {
		Priority:    "high",
		Action:      "purge or archive entries past the retention limit",
		Timeline:    "30 days",
		Description: "Audit entries were found older than the regulation's retention limit.",
	},
	ViolationConsent: {
		Priority:    "critical",
		Action:      "halt processing until explicit consent is recorded",
		Timeline:    "immediate",
		Description: "Data processing occurred without a recorded consent flag.",
	},
	ViolationOptOut: {
		Priority:    "critical",
		Action:      "stop data sales for identities that opted out",
		Timeline:    "immediate",
		Description: "Data sale entries exist for identities with an earlier opt-out on record.",
	},
	ViolationMinorProtection: {
		Priority:    "critical",
		Action:      "obtain verified guardian consent or purge the minor's data",
		Timeline:    "7 days",
		Description: "Entries concern subjects below the protected age without prior guardian consent.",
	},
}

// GenerateComplianceReport builds a report for the regulation over
// [start, end]. An unsupported regulation is the one explicit error
// this service raises. Generation is all-or-nothing: a cancelled
// context aborts cleanly with no partial report and nothing persisted.
func (l *Ledger) GenerateComplianceReport(ctx context.Context, regulation string, start, end time.Time) (*ComplianceReport, error) {
	rules, ok := regulations[regulation]
	if !ok {
		return nil, fmt.Errorf("unsupported regulation: %q", regulation)
	}

	window := l.snapshotWindow(start, end)
	now := l.clock.Now()

	var (
		retentionCount int
		consentCount   int
		optOutCount    int
		minorCount     int

		optedOut   = map[string]time.Time{}
		guardianOK = map[string]bool{}
		identities = map[string]struct{}{}
		perAction  = map[string]int{}
	)

	for i, entry := range window {
		// Large ledgers: abort instead of returning partial output.
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("report generation aborted: %w", err)
			}
		}

		identities[entry.Identity] = struct{}{}
		perAction[entry.Action]++

		if now.Sub(entry.Timestamp) > rules.retention {
			retentionCount++
		}

		switch entry.Action {
		case "opt_out":
			if _, seen := optedOut[entry.Identity]; !seen {
				optedOut[entry.Identity] = entry.Timestamp
			}
		case "guardian_consent":
			guardianOK[entry.Identity] = true
		case "data_processing":
			if rules.checkConsent && entry.Details["consent"] != "true" {
				consentCount++
			}
		case "data_sale":
			if rules.checkOptOut {
				if at, seen := optedOut[entry.Identity]; seen && at.Before(entry.Timestamp) {
					optOutCount++
				}
			}
		}

		if rules.minorAge > 0 {
			if age, err := strconv.Atoi(entry.Details["subject_age"]); err == nil && age < rules.minorAge {
				if !guardianOK[entry.Identity] {
					minorCount++
				}
			}
		}
	}

	report := &ComplianceReport{
		ID:          uuid.New(),
		Regulation:  regulation,
		PeriodStart: start,
		PeriodEnd:   end,
		GeneratedAt: now,
		Metrics: map[string]float64{
			"total_entries":     float64(len(window)),
			"unique_identities": float64(len(identities)),
			"data_processing":   float64(perAction["data_processing"]),
			"data_sale":         float64(perAction["data_sale"]),
		},
	}

	addViolation := func(kind, severity string, count int, description string) {
		if count == 0 {
			return
		}
		report.Violations = append(report.Violations, Violation{
			Type:        kind,
			Severity:    severity,
			Count:       count,
			Description: description,
		})
		report.Recommendations = append(report.Recommendations, recommendations[kind])
	}

	addViolation(ViolationRetention, SeverityWarning, retentionCount,
		fmt.Sprintf("%d entries exceed the %s retention limit", retentionCount, regulation))
	addViolation(ViolationConsent, SeverityCritical, consentCount,
		fmt.Sprintf("%d data_processing entries lack an explicit consent flag", consentCount))
	addViolation(ViolationOptOut, SeverityCritical, optOutCount,
		fmt.Sprintf("%d data_sale entries post-date an opt-out", optOutCount))
	addViolation(ViolationMinorProtection, SeverityCritical, minorCount,
		fmt.Sprintf("%d entries concern subjects under %d without guardian consent", minorCount, rules.minorAge))

	if err := l.persistReport(ctx, report); err != nil {
		l.logger.Warn("compliance report not persisted",
			zap.String("regulation", regulation),
			zap.Error(err))
	}

	l.logger.Info("compliance report generated",
		zap.String("regulation", regulation),
		zap.Int("entries", len(window)),
		zap.Int("violations", len(report.Violations)))
	return report, nil
}

func (l *Ledger) persistReport(ctx context.Context, report *ComplianceReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	key := "audit:report:" + report.ID.String()
	if err := l.store.Set(ctx, key, string(data), l.cfg.ReportRetention); err != nil {
		return fmt.Errorf("persist report: %w", err)
	}
	return nil
}
