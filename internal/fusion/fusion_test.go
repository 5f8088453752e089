package fusion

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/dualverify/internal/connection"
	"github.com/tphakala/dualverify/internal/logger"
	"github.com/tphakala/dualverify/internal/registry"
	"github.com/tphakala/dualverify/internal/timeutil"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine() (*Engine, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(epoch)
	return NewEngine(Config{}, clock, logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)), clock
}

// device returns a visible peer last seen age ago.
func device(rssi int, age time.Duration) registry.Device {
	return registry.Device{
		ID:              "peer",
		RadioVisible:    true,
		LastRadioSeen:   epoch.Add(-age),
		SignalStrength:  rssi,
		ConnectionState: connection.Disconnected,
	}
}

func TestConfidenceScore(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine()

	tests := []struct {
		name   string
		device registry.Device
		audio  bool
		want   float64
	}{
		{"nothing", registry.Device{}, false, 0.0},
		{"invisible with recent timestamp", registry.Device{LastRadioSeen: epoch}, false, 0.0},
		{"audio only", registry.Device{}, true, 0.4},
		{"strong fresh with audio", device(-40, time.Second), true, 1.0},
		{"stronger than -40 is capped", device(-20, time.Second), true, 1.0},
		{"weakest fresh", device(-100, time.Second), false, 0.2},
		{"mid signal recent", device(-70, 10*time.Second), false, 0.4*0.5 + 0.1},
		{"mid signal stale", device(-70, 20*time.Second), true, 0.4*0.5 + 0.4},
		{"below floor", device(-120, 20*time.Second), false, 0.0},
		{"five seconds is not fresh", device(-40, 5*time.Second), false, 0.4 + 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, e.ConfidenceScore(tt.device, tt.audio), 1e-9)
		})
	}
}

func TestConfidenceScoreAlwaysInRange(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine()
	for rssi := -140; rssi <= 10; rssi += 5 {
		for _, age := range []time.Duration{0, 4 * time.Second, 14 * time.Second, time.Minute} {
			for _, visible := range []bool{true, false} {
				for _, audio := range []bool{true, false} {
					d := device(rssi, age)
					d.RadioVisible = visible
					score := e.ConfidenceScore(d, audio)
					assert.GreaterOrEqual(t, score, 0.0, fmt.Sprintf("rssi=%d age=%s", rssi, age))
					assert.LessOrEqual(t, score, 1.0, fmt.Sprintf("rssi=%d age=%s", rssi, age))
				}
			}
		}
	}
}

func TestIsDualVerified(t *testing.T) {
	t.Parallel()

	e, clock := newTestEngine()
	d := device(-50, 0)

	assert.True(t, e.IsDualVerified(d, true))
	assert.False(t, e.IsDualVerified(d, false))

	hidden := d
	hidden.RadioVisible = false
	assert.False(t, e.IsDualVerified(hidden, true))

	clock.Advance(30 * time.Second)
	assert.True(t, e.IsDualVerified(d, true), "window is inclusive")
	clock.Advance(time.Millisecond)
	assert.False(t, e.IsDualVerified(d, true))
}

func TestShouldAutoConnect(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine()

	strong := device(-40, 0)
	assert.True(t, e.ShouldAutoConnect(strong, true))
	assert.False(t, e.ShouldAutoConnect(strong, false), "audio required")

	for _, state := range []connection.State{connection.Connected, connection.Connecting} {
		busy := strong
		busy.ConnectionState = state
		assert.Equal(t, 1.0, e.ConfidenceScore(busy, true))
		assert.False(t, e.ShouldAutoConnect(busy, true), "state %s", state)
	}

	// 0.4*0.25 + 0.4 + 0.1 = 0.6, verified but under the threshold
	weak := device(-85, 10*time.Second)
	assert.True(t, e.IsDualVerified(weak, true))
	assert.False(t, e.ShouldAutoConnect(weak, true))
}

func TestStatusDescription(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine()

	tests := []struct {
		name   string
		device registry.Device
		audio  bool
		want   string
	}{
		{"high", device(-40, 0), true, StatusHigh},
		{"medium", device(-70, time.Second), true, StatusMedium},
		{"low", device(-100, 20*time.Second), true, StatusLow},
		{"stale reading", device(-40, 31*time.Second), true, StatusVerifying},
		{"radio only", device(-40, 0), false, StatusRadioOnly},
		{"audio only", registry.Device{}, true, StatusAudioOnly},
		{"nothing", registry.Device{}, false, StatusNotDetected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, e.StatusDescription(tt.device, tt.audio))
		})
	}
}

func TestAssess(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine()
	got := e.Assess(device(-40, 0), true)

	assert.Equal(t, Assessment{
		DeviceID:     "peer",
		DualVerified: true,
		Confidence:   1.0,
		AutoConnect:  true,
		Status:       StatusHigh,
	}, got)
}

func TestVerificationRecords(t *testing.T) {
	t.Parallel()

	e, clock := newTestEngine()

	rec := e.RecordVerification("a")
	assert.Equal(t, epoch, rec.VerifiedAt)

	clock.Advance(20 * time.Second)
	e.RecordVerification("b")

	got, ok := e.Verification("a")
	require.True(t, ok)
	assert.Equal(t, rec, got)
	assert.Len(t, e.Verifications(), 2)

	clock.Advance(11 * time.Second)
	_, ok = e.Verification("a")
	assert.False(t, ok, "older than the validity window")

	assert.Equal(t, 1, e.CleanupStale())
	list := e.Verifications()
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].DeviceID)

	// re-verifying refreshes the stamp
	e.RecordVerification("b")
	clock.Advance(25 * time.Second)
	assert.Zero(t, e.CleanupStale())
	_, ok = e.Verification("b")
	assert.True(t, ok)
}
