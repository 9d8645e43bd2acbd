package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reportWindow(clock *fakeClock) (time.Time, time.Time) {
	return clock.Now().Add(-time.Hour), clock.Now().Add(time.Hour)
}

func findViolation(report *ComplianceReport, kind string) (Violation, bool) {
	for _, v := range report.Violations {
		if v.Type == kind {
			return v, true
		}
	}
	return Violation{}, false
}

func TestUnsupportedRegulation(t *testing.T) {
	l, _, clock := newTestLedger(t)
	start, end := reportWindow(clock)

	_, err := l.GenerateComplianceReport(context.Background(), "hipaa", start, end)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported regulation")
}

func TestGDPRConsentViolation(t *testing.T) {
	l, _, clock := newTestLedger(t)
	ctx := context.Background()

	l.LogAction(ctx, "u1", "data_processing", map[string]interface{}{
		"purpose": "analytics",
	}, Source{})
	l.LogAction(ctx, "u2", "data_processing", map[string]interface{}{
		"consent": "true",
	}, Source{})

	start, end := reportWindow(clock)
	report, err := l.GenerateComplianceReport(ctx, RegulationGDPR, start, end)
	require.NoError(t, err)

	v, ok := findViolation(report, ViolationConsent)
	require.True(t, ok, "consent violation expected")
	assert.Equal(t, SeverityCritical, v.Severity)
	assert.Equal(t, 1, v.Count)
	assert.Len(t, report.Violations, 1, "consented entry produces no violation")

	require.Len(t, report.Recommendations, 1)
	assert.Equal(t, "critical", report.Recommendations[0].Priority)
	assert.Equal(t, "immediate", report.Recommendations[0].Timeline)
}

func TestCCPAOptOutViolation(t *testing.T) {
	l, _, clock := newTestLedger(t)
	ctx := context.Background()

	l.LogAction(ctx, "u1", "opt_out", nil, Source{})
	clock.Advance(time.Minute)
	l.LogAction(ctx, "u1", "data_sale", nil, Source{})
	l.LogAction(ctx, "u2", "data_sale", nil, Source{}) // never opted out

	start, end := reportWindow(clock)
	report, err := l.GenerateComplianceReport(ctx, RegulationCCPA, start, end)
	require.NoError(t, err)

	v, ok := findViolation(report, ViolationOptOut)
	require.True(t, ok)
	assert.Equal(t, SeverityCritical, v.Severity)
	assert.Equal(t, 1, v.Count)
}

func TestCCPAIgnoresConsent(t *testing.T) {
	l, _, clock := newTestLedger(t)
	ctx := context.Background()

	l.LogAction(ctx, "u1", "data_processing", nil, Source{})

	start, end := reportWindow(clock)
	report, err := l.GenerateComplianceReport(ctx, RegulationCCPA, start, end)
	require.NoError(t, err)

	_, ok := findViolation(report, ViolationConsent)
	assert.False(t, ok, "ccpa does not enforce the consent flag")
}

func TestCOPPAMinorProtection(t *testing.T) {
	l, _, clock := newTestLedger(t)
	ctx := context.Background()

	l.LogAction(ctx, "kid-1", "data_processing", map[string]interface{}{
		"consent":     "true",
		"subject_age": 11,
	}, Source{})

	l.LogAction(ctx, "kid-2", "guardian_consent", nil, Source{})
	clock.Advance(time.Minute)
	l.LogAction(ctx, "kid-2", "data_processing", map[string]interface{}{
		"consent":     "true",
		"subject_age": 12,
	}, Source{})

	start, end := reportWindow(clock)
	report, err := l.GenerateComplianceReport(ctx, RegulationCOPPA, start, end)
	require.NoError(t, err)

	v, ok := findViolation(report, ViolationMinorProtection)
	require.True(t, ok)
	assert.Equal(t, 1, v.Count, "guardian consent on record clears kid-2")
}

func TestGDPRRetentionViolation(t *testing.T) {
	l, _, clock := newTestLedger(t)
	ctx := context.Background()

	l.LogAction(ctx, "u1", "upload", nil, Source{})
	clock.Advance(366 * 24 * time.Hour)
	l.LogAction(ctx, "u1", "upload", nil, Source{})

	start := clock.Now().Add(-400 * 24 * time.Hour)
	end := clock.Now()
	report, err := l.GenerateComplianceReport(ctx, RegulationGDPR, start, end)
	require.NoError(t, err)

	v, ok := findViolation(report, ViolationRetention)
	require.True(t, ok)
	assert.Equal(t, SeverityWarning, v.Severity)
	assert.Equal(t, 1, v.Count)
}

func TestReportMetricsAndPersistence(t *testing.T) {
	l, mem, clock := newTestLedger(t)
	ctx := context.Background()

	l.LogAction(ctx, "u1", "data_processing", map[string]interface{}{"consent": "true"}, Source{})
	l.LogAction(ctx, "u1", "data_sale", nil, Source{})
	l.LogAction(ctx, "u2", "login", nil, Source{})

	start, end := reportWindow(clock)
	report, err := l.GenerateComplianceReport(ctx, RegulationGDPR, start, end)
	require.NoError(t, err)

	assert.Equal(t, 3.0, report.Metrics["total_entries"])
	assert.Equal(t, 2.0, report.Metrics["unique_identities"])
	assert.Equal(t, 1.0, report.Metrics["data_processing"])

	raw, err := mem.Get(ctx, "audit:report:"+report.ID.String())
	require.NoError(t, err)
	assert.Contains(t, raw, RegulationGDPR)
}

func TestReportAbortsOnCancelledContext(t *testing.T) {
	l, _, clock := newTestLedger(t)

	l.LogAction(context.Background(), "u1", "login", nil, Source{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start, end := reportWindow(clock)
	_, err := l.GenerateComplianceReport(ctx, RegulationGDPR, start, end)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aborted")
}

func TestWindowFiltering(t *testing.T) {
	l, _, clock := newTestLedger(t)
	ctx := context.Background()

	l.LogAction(ctx, "u1", "data_processing", nil, Source{}) // in window
	clock.Advance(3 * time.Hour)
	l.LogAction(ctx, "u1", "data_processing", nil, Source{}) // out of window

	start := clock.Now().Add(-4 * time.Hour)
	end := clock.Now().Add(-2 * time.Hour)
	report, err := l.GenerateComplianceReport(ctx, RegulationGDPR, start, end)
	require.NoError(t, err)

	assert.Equal(t, 1.0, report.Metrics["total_entries"])
	v, ok := findViolation(report, ViolationConsent)
	require.True(t, ok)
	assert.Equal(t, 1, v.Count, "only the in-window entry is examined")
}
