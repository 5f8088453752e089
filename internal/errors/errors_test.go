package errors

import (
	"fmt"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
}

func TestBuilderKeepsExplicitComponentAndCategory(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("microphone permission denied")).
		Component("tone").
		Category(CategoryHardware).
		Context("operation", "start_listening").
		DeviceContext("AA:BB", "peer").
		Build()

	assert.Equal(t, "tone", ee.GetComponent())
	assert.True(t, IsHardwareUnavailable(ee))
	assert.False(t, IsStreamFailure(ee))

	ctx := ee.GetContext()
	assert.Equal(t, "start_listening", ctx["operation"])
	assert.Equal(t, "AA:BB", ctx["device_id"])
}

func TestNilErrorUsesContextMessage(t *testing.T) {
	t.Parallel()

	ee := New(nil).
		Category(CategoryRadio).
		Context("error", "bluetooth adapter powered off").
		Build()

	assert.Equal(t, "bluetooth adapter powered off", ee.Error())
}

func TestWrappedCategoryDetection(t *testing.T) {
	t.Parallel()

	base := StreamError(NewStd("scan stream closed"), "radio")
	wrapped := fmt.Errorf("scanner: %w", base)

	assert.True(t, IsStreamFailure(wrapped))
	assert.Equal(t, CategoryStream, detectCategory(wrapped, "radio"))
}

func TestDetectCategoryHeuristics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		component string
		want      ErrorCategory
	}{
		{"permission", NewStd("permission denied"), "", CategoryHardware},
		{"handshake", NewStd("handshake rejected"), "", CategoryConnection},
		{"invalid", NewStd("invalid uuid"), "", CategoryValidation},
		{"tone component", NewStd("boom"), "tone", CategoryAudio},
		{"radio component", NewStd("boom"), "radio.ble", CategoryRadio},
		{"unknown", NewStd("boom"), "", CategoryGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, detectCategory(tt.err, tt.component))
		})
	}
}

func TestLookupComponentPrefersLongestPattern(t *testing.T) {
	t.Parallel()

	got := lookupComponent("github.com/tphakala/dualverify/internal/radio/ble.(*Scanner).Scan")
	assert.Equal(t, "radio.ble", got)
}

type recordingReporter struct {
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(err *EnhancedError) { r.reported = append(r.reported, err) }
func (r *recordingReporter) IsEnabled() bool                { return true }

func TestReporterReceivesBuiltErrors(t *testing.T) {
	reporter := &recordingReporter{}
	SetTelemetryReporter(reporter)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	_ = New(NewStd("handshake timed out")).Component("connection").Build()

	require.Len(t, reporter.reported, 1)
	assert.Equal(t, CategoryConnection, reporter.reported[0].Category)
}

func TestScrubMessageForPrivacy(t *testing.T) {
	t.Parallel()

	msg := scrubMessageForPrivacy("connect to AA:BB:CC:DD:EE:FF failed, token=abc123 at https://x.io/p?k=v")
	assert.NotContains(t, msg, "AA:BB:CC:DD:EE:FF")
	assert.NotContains(t, msg, "abc123")
	assert.Contains(t, msg, "https://x.io/p?[REDACTED]")
}

func TestPriorityOverridesCategoryLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		priority string
		category ErrorCategory
		want     sentry.Level
	}{
		{"category fallback", "", CategoryConfiguration, sentry.LevelError},
		{"transient category", "", CategoryConnection, sentry.LevelWarning},
		{"low", PriorityLow, CategoryConnection, sentry.LevelInfo},
		{"critical", PriorityCritical, CategoryConnection, sentry.LevelFatal},
		{"high", PriorityHigh, CategoryStream, sentry.LevelError},
		{"unknown normalizes to medium", "urgent", CategoryConfiguration, sentry.LevelWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ee := New(NewStd("boom")).Category(tt.category).Priority(tt.priority).Build()
			assert.Equal(t, tt.want, errorLevel(ee))
		})
	}
}
