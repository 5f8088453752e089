package proximity

import (
	"context"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/dualverify/internal/connection"
	"github.com/tphakala/dualverify/internal/errors"
	"github.com/tphakala/dualverify/internal/fusion"
	"github.com/tphakala/dualverify/internal/logger"
	"github.com/tphakala/dualverify/internal/radio"
	"github.com/tphakala/dualverify/internal/registry"
	"github.com/tphakala/dualverify/internal/tone"
)

var service = uuid.MustParse("5b2c8d1e-7a4f-4c3e-9d6b-2f1a0e8c7d54")

type pushSource struct {
	mu       sync.Mutex
	startErr error
	onData   func([]byte)
}

func (s *pushSource) Start(_ context.Context, onData func([]byte), _ func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.onData = onData
	return nil
}

func (s *pushSource) Stop() error { return nil }

func (s *pushSource) push(pcm []byte) {
	s.mu.Lock()
	fn := s.onData
	s.mu.Unlock()
	if fn != nil {
		fn(pcm)
	}
}

type nullSink struct{}

func (nullSink) Open() error       { return nil }
func (nullSink) Play([]byte) error { return nil }
func (nullSink) Close() error      { return nil }

type idleScanner struct{}

func (idleScanner) Available(context.Context) error { return nil }
func (idleScanner) Scan(ctx context.Context, _ func(radio.Sighting)) error {
	<-ctx.Done()
	return ctx.Err()
}

type captureRecorder struct {
	mu            sync.Mutex
	detections    int
	verifications []fusion.Assessment
	connEvents    []connection.Event
}

func (r *captureRecorder) RecordDetection(tone.DetectionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detections++
}

func (r *captureRecorder) RecordDevices(int, int) {}

func (r *captureRecorder) RecordVerification(a fusion.Assessment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifications = append(r.verifications, a)
}

func (r *captureRecorder) RecordConnectionEvent(ev connection.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connEvents = append(r.connEvents, ev)
}

func (r *captureRecorder) verified() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.verifications)
}

type capturePublisher struct {
	mu            sync.Mutex
	connections   []connection.Event
	verifications []fusion.Assessment
}

func (p *capturePublisher) PublishConnection(_ context.Context, ev connection.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connections = append(p.connections, ev)
	return nil
}

func (p *capturePublisher) PublishVerification(_ context.Context, a fusion.Assessment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verifications = append(p.verifications, a)
	return nil
}

func (p *capturePublisher) counts() (connections, verifications int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.connections), len(p.verifications)
}

type harness struct {
	engine    *Engine
	source    *pushSource
	radio     *radio.Aggregator
	recorder  *captureRecorder
	publisher *capturePublisher
}

func newHarness(t *testing.T, autoConnect bool) *harness {
	t.Helper()

	log := logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
	source := &pushSource{}

	receiver, err := tone.NewReceiver(source, tone.DetectorConfig{
		SampleRate:      44100,
		FFTSize:         4096,
		TargetFrequency: 18000,
		Tolerance:       500,
		Threshold:       0.1,
	}, 8, nil, log)
	require.NoError(t, err)

	transmitter := tone.NewTransmitter(tone.ChirpConfig{
		SampleRate:  44100,
		Frequency:   18000,
		Duration:    100 * time.Millisecond,
		Amplitude:   0.5,
		FadeSamples: 100,
	}, time.Hour, nullSink{}, nil, log)

	agg := radio.NewAggregator(radio.Config{
		ServiceUUID:      service,
		RSSIThreshold:    -100,
		StalenessWindow:  10 * time.Second,
		SweepInterval:    5 * time.Second,
		ScanTimeout:      15 * time.Second,
		RSSIAt1m:         -50,
		PathLossExponent: 2.5,
		AdvertiseName:    "test",
	}, idleScanner{}, nil, nil, log)

	conns := connection.NewManager(connection.Config{HeartbeatInterval: time.Hour},
		connection.NewSimulatedTransport(10*time.Millisecond, nil), nil, log)

	h := &harness{
		source:    source,
		radio:     agg,
		recorder:  &captureRecorder{},
		publisher: &capturePublisher{},
	}

	h.engine, err = NewEngine(Config{
		AutoConnect:          autoConnect,
		HousekeepingInterval: 20 * time.Millisecond,
		CleanupInterval:      50 * time.Millisecond,
	}, Components{
		Transmitter: transmitter,
		Receiver:    receiver,
		Radio:       agg,
		Fusion:      fusion.NewEngine(fusion.Config{}, nil, log),
		Connections: conns,
		Registry:    registry.New(registry.Config{}, nil),
	}, nil, log, WithRecorder(h.recorder), WithPublisher(h.publisher))
	require.NoError(t, err)

	t.Cleanup(func() { assert.NoError(t, h.engine.Close()) })
	return h
}

// run starts the loop and stops it at cleanup.
func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	require.Eventually(t, h.engine.IsRunning, time.Second, time.Millisecond)
}

// tonePCM is one detector frame of the target tone.
func tonePCM() []byte {
	samples := make([]float64, 4096)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*18000*float64(i)/44100)
	}
	return tone.EncodePCM16(samples)
}

func sighting(id string, rssi int) radio.Sighting {
	return radio.Sighting{ID: id, AdvertisedName: "Peer " + id, RSSI: rssi, ServiceUUIDs: []string{service.String()}}
}

func TestNewEngineRequiresComponents(t *testing.T) {
	t.Parallel()

	_, err := NewEngine(Config{}, Components{}, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestDualVerificationTriggersAutoConnect(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	events, cancel := h.engine.SubscribeConnectionEvents(16)
	defer cancel()
	h.run(t)

	require.NoError(t, h.engine.StartListening(t.Context()))
	pcm := tonePCM()

	require.Eventually(t, func() bool {
		h.radio.HandleSighting(sighting("peer-1", -45))
		h.source.push(pcm)
		st, ok := h.engine.Status("peer-1")
		return ok && st.ConnectionState == connection.Connected
	}, 3*time.Second, 20*time.Millisecond)

	first := <-events
	assert.Equal(t, connection.Connecting, first.State)
	assert.Equal(t, connection.AutoConnectMessage, first.Message)
	assert.Equal(t, "Peer peer-1", first.DeviceName)

	st, _ := h.engine.Status("peer-1")
	assert.True(t, st.DualVerified)
	assert.Equal(t, fusion.StatusHigh, st.Status)

	audio := h.engine.AudioState()
	assert.True(t, audio.Listening)
	assert.InDelta(t, 18000, audio.LastPeakFrequency, 44100.0/4096)
	assert.NoError(t, audio.Err)

	assert.GreaterOrEqual(t, h.recorder.verified(), 1)
	require.Eventually(t, func() bool {
		conns, verifications := h.publisher.counts()
		return conns >= 2 && verifications >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestAutoConnectDisabled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	events, cancel := h.engine.SubscribeConnectionEvents(16)
	defer cancel()
	h.run(t)

	require.NoError(t, h.engine.StartListening(t.Context()))
	pcm := tonePCM()

	require.Eventually(t, func() bool {
		h.radio.HandleSighting(sighting("peer-1", -45))
		h.source.push(pcm)
		st, ok := h.engine.Status("peer-1")
		return ok && st.DualVerified
	}, 3*time.Second, 20*time.Millisecond)

	select {
	case ev := <-events:
		t.Fatalf("unexpected connection event %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	// manual connect still works
	require.NoError(t, h.engine.Connect(t.Context(), "peer-1"))
	assert.Equal(t, connection.Connecting, (<-events).State)
	assert.Equal(t, connection.Connected, (<-events).State)

	h.engine.Disconnect("peer-1")
	assert.Equal(t, connection.Disconnected, (<-events).State)
}

func TestRadioOnlyDevice(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	updates, cancel := h.engine.SubscribeDevices(4)
	defer cancel()
	h.run(t)

	require.Eventually(t, func() bool {
		h.radio.HandleSighting(sighting("peer-2", -60))
		select {
		case list := <-updates:
			return len(list) == 1 && list[0].Status == fusion.StatusRadioOnly
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	devices := h.engine.Devices()
	require.Len(t, devices, 1)
	assert.Equal(t, "peer-2", devices[0].ID)
	assert.True(t, devices[0].RadioVisible)
	assert.False(t, devices[0].DualVerified)
	assert.Equal(t, connection.Disconnected, devices[0].ConnectionState)
}

func TestConnectUnknownDevice(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)

	err := h.engine.Connect(t.Context(), "nobody")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	h.engine.Disconnect("nobody")
	_, ok := h.engine.Status("nobody")
	assert.False(t, ok)
}

func TestRunTwice(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.run(t)

	require.ErrorIs(t, h.engine.Run(t.Context()), ErrAlreadyRunning)
}

func TestCommandsAndClose(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)

	require.NoError(t, h.engine.StartTransmitting(t.Context()))
	require.NoError(t, h.engine.StartScanning(t.Context()))
	require.NoError(t, h.engine.StartAdvertising(t.Context()))
	assert.True(t, h.engine.RefreshAvailability(t.Context()))

	assert.True(t, h.engine.AudioState().Transmitting)
	rs := h.engine.RadioState()
	assert.True(t, rs.Scanning)
	assert.True(t, rs.Advertising)
	assert.True(t, rs.Available)

	require.NoError(t, h.engine.StopTransmitting())
	h.engine.StopScanning()
	require.NoError(t, h.engine.StopAdvertising())

	rs = h.engine.RadioState()
	assert.False(t, rs.Scanning)
	assert.False(t, rs.Advertising)
	assert.False(t, h.engine.AudioState().Transmitting)
}

func TestMicrophoneUnavailable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.source.startErr = errors.NewStd("permission denied")

	err := h.engine.StartListening(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsHardwareUnavailable(err))

	audio := h.engine.AudioState()
	assert.False(t, audio.Listening)
	assert.True(t, errors.IsHardwareUnavailable(audio.Err))
}
