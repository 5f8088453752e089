package radio

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/dualverify/internal/errors"
	"github.com/tphakala/dualverify/internal/logger"
	"github.com/tphakala/dualverify/internal/timeutil"
)

type fakeScanner struct {
	availErr  error
	sightings chan Sighting
	failures  chan error
	scans     atomic.Int32
}

func newFakeScanner() *fakeScanner {
	return &fakeScanner{
		sightings: make(chan Sighting),
		failures:  make(chan error, 1),
	}
}

func (s *fakeScanner) Available(context.Context) error { return s.availErr }

func (s *fakeScanner) Scan(ctx context.Context, fn func(Sighting)) error {
	s.scans.Add(1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-s.failures:
			return err
		case sighting := <-s.sightings:
			fn(sighting)
		}
	}
}

type failingAdvertiser struct{}

func (failingAdvertiser) Start(context.Context, string, uuid.UUID) error {
	return errors.NewStd("peripheral mode not supported")
}
func (failingAdvertiser) Stop() error { return nil }

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		ServiceUUID:      testService,
		RSSIThreshold:    -100,
		StalenessWindow:  10 * time.Second,
		SweepInterval:    5 * time.Second,
		ScanTimeout:      15 * time.Second,
		RSSIAt1m:         -50,
		PathLossExponent: 2.5,
		AdvertiseName:    "tester",
	}
}

func newTestAggregator(t *testing.T, scanner Scanner, adv Advertiser) (*Aggregator, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(epoch)
	log := logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
	a := NewAggregator(testConfig(), scanner, adv, clock, log)
	t.Cleanup(a.StopScanning)
	return a, clock
}

func peer(id string, rssi int) Sighting {
	return Sighting{ID: id, AdvertisedName: id, RSSI: rssi, ServiceUUIDs: []string{testService.String()}}
}

func latest(t *testing.T, a *Aggregator) []Device {
	t.Helper()
	select {
	case list := <-a.Updates():
		return list
	case <-time.After(time.Second):
		t.Fatal("no device list published")
		return nil
	}
}

func TestHandleSightingFilters(t *testing.T) {
	t.Parallel()

	a, _ := newTestAggregator(t, newFakeScanner(), nil)

	assert.True(t, a.HandleSighting(peer("at-threshold", -100)))
	assert.False(t, a.HandleSighting(peer("too-weak", -101)))
	assert.False(t, a.HandleSighting(Sighting{ID: "other-app", RSSI: -40, ServiceUUIDs: []string{uuid.NewString()}}))
	assert.False(t, a.HandleSighting(Sighting{ID: "no-services", RSSI: -40}))

	list := latest(t, a)
	require.Len(t, list, 1)
	assert.Equal(t, "at-threshold", list[0].ID)
	assert.InDelta(t, 10.0, list[0].Distance, 1e-9)
	assert.Equal(t, epoch, list[0].LastSeen)

	stats := a.Stats()
	assert.Equal(t, uint64(1), stats.Accepted)
	assert.Equal(t, uint64(3), stats.Rejected)
}

func TestDevicesOrderedByDistance(t *testing.T) {
	t.Parallel()

	a, _ := newTestAggregator(t, newFakeScanner(), nil)
	a.HandleSighting(peer("far", -80))
	a.HandleSighting(peer("near", -45))
	a.HandleSighting(peer("mid", -60))

	var ids []string
	for _, d := range a.Devices() {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"near", "mid", "far"}, ids)
}

func TestSweepEvictsStaleDevices(t *testing.T) {
	t.Parallel()

	a, clock := newTestAggregator(t, newFakeScanner(), nil)
	a.HandleSighting(peer("stale", -60))
	a.HandleSighting(peer("fresh", -60))

	clock.Advance(8 * time.Second)
	a.HandleSighting(peer("fresh", -55))

	clock.Advance(1 * time.Second)
	assert.Zero(t, a.Sweep(), "9s old device stays")
	assert.Len(t, latest(t, a), 2)

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, a.Sweep(), "11s old device evicted")

	list := latest(t, a)
	require.Len(t, list, 1)
	assert.Equal(t, "fresh", list[0].ID)
	assert.Equal(t, -55, list[0].RSSI)
}

func TestScanningLifecycle(t *testing.T) {
	t.Parallel()

	scanner := newFakeScanner()
	a, clock := newTestAggregator(t, scanner, nil)

	a.StopScanning()
	require.NoError(t, a.StartScanning(t.Context()))
	require.NoError(t, a.StartScanning(t.Context()))
	assert.True(t, a.IsScanning())
	assert.True(t, a.State().Available)

	scanner.sightings <- peer("peer-1", -50)
	require.Len(t, latest(t, a), 1)

	require.True(t, clock.BlockUntil(1, time.Second))
	clock.Advance(11 * time.Second)
	require.Eventually(t, func() bool { return len(a.Devices()) == 0 }, time.Second, 5*time.Millisecond,
		"periodic sweep evicts the silent peer")

	a.StopScanning()
	a.StopScanning()
	assert.False(t, a.IsScanning())
	assert.Equal(t, int32(1), scanner.scans.Load())
}

func TestStartScanningRadioUnavailable(t *testing.T) {
	t.Parallel()

	scanner := newFakeScanner()
	scanner.availErr = errors.NewStd("bluetooth powered off")
	a, _ := newTestAggregator(t, scanner, nil)

	err := a.StartScanning(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsHardwareUnavailable(err))

	state := a.State()
	assert.False(t, state.Scanning)
	assert.False(t, state.Available)
	assert.True(t, errors.IsHardwareUnavailable(state.Err))
	assert.Zero(t, scanner.scans.Load())
}

func TestScanFailureStopsScanning(t *testing.T) {
	t.Parallel()

	scanner := newFakeScanner()
	a, _ := newTestAggregator(t, scanner, nil)

	require.NoError(t, a.StartScanning(t.Context()))
	scanner.failures <- errors.NewStd("adapter reset")

	require.Eventually(t, func() bool { return !a.IsScanning() }, time.Second, 5*time.Millisecond)
	assert.True(t, errors.IsStreamFailure(a.State().Err))

	// Explicit restart works and clears the error
	require.NoError(t, a.StartScanning(t.Context()))
	assert.NoError(t, a.State().Err)
}

func TestScanCyclesAreRearmed(t *testing.T) {
	t.Parallel()

	scanner := newFakeScanner()
	clock := timeutil.NewMockClock(epoch)
	cfg := testConfig()
	cfg.ScanTimeout = 10 * time.Millisecond
	a := NewAggregator(cfg, scanner, nil, clock, logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC))
	t.Cleanup(a.StopScanning)

	require.NoError(t, a.StartScanning(t.Context()))
	require.Eventually(t, func() bool { return scanner.scans.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, a.IsScanning())
	assert.NoError(t, a.State().Err)
}

func TestAdvertisingFlag(t *testing.T) {
	t.Parallel()

	a, _ := newTestAggregator(t, newFakeScanner(), nil)

	require.NoError(t, a.StopAdvertising(), "stop before start is a no-op")
	require.NoError(t, a.StartAdvertising(t.Context()))
	require.NoError(t, a.StartAdvertising(t.Context()))
	assert.True(t, a.IsAdvertising(), "flag set even with the no-op advertiser")

	require.NoError(t, a.StopAdvertising())
	assert.False(t, a.IsAdvertising())
}

func TestAdvertisingFailure(t *testing.T) {
	t.Parallel()

	a, _ := newTestAggregator(t, newFakeScanner(), failingAdvertiser{})

	err := a.StartAdvertising(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsHardwareUnavailable(err))
	assert.False(t, a.IsAdvertising())
}

func TestScanningStopsWhenContextCancelled(t *testing.T) {
	t.Parallel()

	scanner := newFakeScanner()
	a, clock := newTestAggregator(t, scanner, nil)

	ctx, cancel := context.WithCancel(t.Context())
	require.NoError(t, a.StartScanning(ctx))
	require.Eventually(t, func() bool { return scanner.scans.Load() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return !a.IsScanning() }, time.Second, 5*time.Millisecond)
	assert.NoError(t, a.State().Err)

	// Restart must run new scan cycles and a new sweeper.
	require.NoError(t, a.StartScanning(t.Context()))
	assert.True(t, a.IsScanning())
	require.Eventually(t, func() bool { return scanner.scans.Load() == 2 }, time.Second, 5*time.Millisecond)

	scanner.sightings <- peer("peer-1", -50)
	require.Len(t, latest(t, a), 1)

	require.True(t, clock.BlockUntil(1, time.Second))
	clock.Advance(11 * time.Second)
	require.Eventually(t, func() bool { return len(a.Devices()) == 0 }, time.Second, 5*time.Millisecond)

	a.StopScanning()
	assert.False(t, a.IsScanning())
}
