package connection

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/dualverify/internal/errors"
	"github.com/tphakala/dualverify/internal/logger"
	"github.com/tphakala/dualverify/internal/timeutil"
)

// fakeTransport fails handshakes or heartbeats for listed devices and can
// hold handshakes until released. Handshakes pop gates in call order when
// gates is set, each call returning whatever its gate delivers.
type fakeTransport struct {
	mu            sync.Mutex
	handshakeErr  map[string]error
	heartbeatErr  map[string]error
	hold          chan struct{}
	gates         []chan error
	heartbeatSent atomic.Int32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handshakeErr: make(map[string]error),
		heartbeatErr: make(map[string]error),
	}
}

func (f *fakeTransport) Handshake(ctx context.Context, id string) error {
	f.mu.Lock()
	hold := f.hold
	err := f.handshakeErr[id]
	var gate chan error
	if len(f.gates) > 0 {
		gate, f.gates = f.gates[0], f.gates[1:]
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case gateErr := <-gate:
			return gateErr
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeTransport) Heartbeat(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeatSent.Add(1)
	return f.heartbeatErr[id]
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, transport Transport) (*Manager, *timeutil.MockClock, <-chan Event) {
	t.Helper()
	clock := timeutil.NewMockClock(epoch)
	m := NewManager(Config{HeartbeatInterval: 10 * time.Second}, transport, clock,
		logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC))
	ch, cancel := m.Subscribe(32)
	t.Cleanup(func() {
		cancel()
		m.Close()
	})
	return m, clock, ch
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for connection event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestConnectSuccess(t *testing.T) {
	t.Parallel()

	m, _, ch := newTestManager(t, newFakeTransport())

	require.NoError(t, m.Connect(t.Context(), "dev-1", "Alice"))

	ev := nextEvent(t, ch)
	assert.Equal(t, Connecting, ev.State)
	assert.Equal(t, "Alice", ev.DeviceName)
	assert.False(t, ev.IsError)
	assert.Equal(t, epoch, ev.Timestamp)

	ev = nextEvent(t, ch)
	assert.Equal(t, Connected, ev.State)
	assert.Equal(t, Connected, m.State("dev-1"))
	assert.Equal(t, []string{"dev-1"}, m.ConnectedDevices())
	assert.True(t, m.HeartbeatActive())
}

func TestConnectWhenAlreadyConnected(t *testing.T) {
	t.Parallel()

	m, _, ch := newTestManager(t, newFakeTransport())
	require.NoError(t, m.Connect(t.Context(), "dev-1", "Alice"))
	nextEvent(t, ch)
	nextEvent(t, ch)

	err := m.Connect(t.Context(), "dev-1", "Alice")
	require.ErrorIs(t, err, ErrAlreadyConnected)
	assertNoEvent(t, ch)
	assert.Equal(t, Connected, m.State("dev-1"))
}

func TestConnectWhileConnecting(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.hold = make(chan struct{})
	m, _, ch := newTestManager(t, transport)

	errc := make(chan error, 1)
	go func() { errc <- m.Connect(context.Background(), "dev-1", "Alice") }()
	assert.Equal(t, Connecting, nextEvent(t, ch).State)

	err := m.Connect(t.Context(), "dev-1", "Alice")
	require.ErrorIs(t, err, ErrAlreadyConnecting)
	assertNoEvent(t, ch)

	close(transport.hold)
	require.NoError(t, <-errc)
	assert.Equal(t, Connected, nextEvent(t, ch).State)
}

func TestHandshakeFailureRevertsToDisconnected(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.handshakeErr["dev-1"] = errors.NewStd("peer rejected pairing")
	m, _, ch := newTestManager(t, transport)

	err := m.Connect(t.Context(), "dev-1", "Alice")
	require.Error(t, err)
	assert.True(t, errors.IsConnectionFailure(err))
	var ee *errors.EnhancedError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, errors.PriorityLow, ee.GetPriority(), "handshake failures are routine")

	assert.Equal(t, Connecting, nextEvent(t, ch).State)
	ev := nextEvent(t, ch)
	assert.Equal(t, Disconnected, ev.State)
	assert.True(t, ev.IsError)
	assert.Contains(t, ev.Message, "peer rejected pairing")

	assert.Equal(t, Disconnected, m.State("dev-1"))
	assert.False(t, m.HeartbeatActive())
	assert.Equal(t, uint64(1), m.Stats().Failures)

	// no retry happened
	assertNoEvent(t, ch)
}

func TestAutoConnectTagsEvents(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.handshakeErr["dev-2"] = errors.NewStd("timeout")
	m, _, ch := newTestManager(t, transport)

	require.NoError(t, m.AutoConnect(t.Context(), "dev-1", "Alice"))
	assert.Equal(t, AutoConnectMessage, nextEvent(t, ch).Message)
	assert.Equal(t, AutoConnectMessage, nextEvent(t, ch).Message)

	require.Error(t, m.AutoConnect(t.Context(), "dev-2", "Bob"))
	nextEvent(t, ch)
	ev := nextEvent(t, ch)
	assert.True(t, ev.IsError)
	assert.Equal(t, "auto-connect: handshake failed: timeout", ev.Message)
}

func TestDisconnect(t *testing.T) {
	t.Parallel()

	m, _, ch := newTestManager(t, newFakeTransport())

	m.Disconnect("unknown", "")
	assertNoEvent(t, ch)

	require.NoError(t, m.Connect(t.Context(), "dev-1", "Alice"))
	nextEvent(t, ch)
	nextEvent(t, ch)

	m.Disconnect("dev-1", "")
	ev := nextEvent(t, ch)
	assert.Equal(t, Disconnected, ev.State)
	assert.Equal(t, "Alice", ev.DeviceName, "name remembered from connect")
	assert.False(t, ev.IsError)
	assert.False(t, m.HeartbeatActive())

	m.Disconnect("dev-1", "Alice")
	assertNoEvent(t, ch)
}

func TestDisconnectDuringHandshakeAbortsConnect(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.hold = make(chan struct{})
	m, _, ch := newTestManager(t, transport)

	errc := make(chan error, 1)
	go func() { errc <- m.Connect(context.Background(), "dev-1", "Alice") }()
	nextEvent(t, ch)

	m.Disconnect("dev-1", "")
	assert.Equal(t, Disconnected, nextEvent(t, ch).State)

	close(transport.hold)
	require.ErrorIs(t, <-errc, ErrAborted)
	assert.Equal(t, Disconnected, m.State("dev-1"))
	assertNoEvent(t, ch)
}

func TestHeartbeatRunsWhileConnected(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	m, clock, ch := newTestManager(t, transport)

	require.NoError(t, m.Connect(t.Context(), "dev-1", "Alice"))
	require.NoError(t, m.Connect(t.Context(), "dev-2", "Bob"))
	for range 4 {
		nextEvent(t, ch)
	}

	require.True(t, clock.BlockUntil(1, time.Second))
	clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return m.Stats().Heartbeats == 2 }, time.Second, 5*time.Millisecond)

	m.Disconnect("dev-1", "")
	assert.True(t, m.HeartbeatActive(), "one device still connected")
	m.Disconnect("dev-2", "")
	assert.False(t, m.HeartbeatActive())
}

func TestHeartbeatFailureDisconnects(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.heartbeatErr["dev-1"] = errors.NewStd("link lost")
	m, clock, ch := newTestManager(t, transport)

	require.NoError(t, m.Connect(t.Context(), "dev-1", "Alice"))
	nextEvent(t, ch)
	nextEvent(t, ch)

	require.True(t, clock.BlockUntil(1, time.Second))
	clock.Advance(10 * time.Second)

	ev := nextEvent(t, ch)
	assert.Equal(t, Disconnected, ev.State)
	assert.True(t, ev.IsError)
	assert.Contains(t, ev.Message, "link lost")
	require.Eventually(t, func() bool { return !m.HeartbeatActive() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), m.Stats().HeartbeatFailures)
}

func TestConnectAfterClose(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t, newFakeTransport())
	m.Close()
	m.Close()

	require.ErrorIs(t, m.Connect(t.Context(), "dev-1", ""), ErrClosed)
}

func TestSimulatedTransport(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(epoch)
	transport := NewSimulatedTransport(0, clock)
	assert.Equal(t, DefaultHandshakeDelay, transport.Delay)

	errc := make(chan error, 1)
	go func() { errc <- transport.Handshake(context.Background(), "dev-1") }()

	require.True(t, clock.BlockUntil(1, time.Second))
	clock.Advance(499 * time.Millisecond)
	select {
	case <-errc:
		t.Fatal("handshake finished before the delay elapsed")
	case <-time.After(20 * time.Millisecond):
	}
	clock.Advance(time.Millisecond)
	require.NoError(t, <-errc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, transport.Handshake(ctx, "dev-1"), context.Canceled)
	require.NoError(t, transport.Heartbeat(context.Background(), "dev-1"))
}

func TestStaleHandshakeDoesNotResolveNewerAttempt(t *testing.T) {
	t.Parallel()

	first, second := make(chan error), make(chan error)
	transport := newFakeTransport()
	transport.gates = []chan error{first, second}
	m, _, ch := newTestManager(t, transport)

	firstErr := make(chan error, 1)
	go func() { firstErr <- m.Connect(context.Background(), "dev-1", "Alice") }()
	assert.Equal(t, Connecting, nextEvent(t, ch).State)

	m.Disconnect("dev-1", "")
	assert.Equal(t, Disconnected, nextEvent(t, ch).State)

	secondErr := make(chan error, 1)
	go func() { secondErr <- m.Connect(context.Background(), "dev-1", "Alice") }()
	assert.Equal(t, Connecting, nextEvent(t, ch).State)

	// The first handshake fails late. It belongs to an abandoned attempt and
	// must not fail the one now in flight.
	first <- errors.NewStd("radio timeout")
	require.ErrorIs(t, <-firstErr, ErrAborted)
	assertNoEvent(t, ch)
	assert.Equal(t, Connecting, m.State("dev-1"))

	second <- nil
	require.NoError(t, <-secondErr)
	ev := nextEvent(t, ch)
	assert.Equal(t, Connected, ev.State)
	assert.False(t, ev.IsError)
	assert.Equal(t, Connected, m.State("dev-1"))
	assert.True(t, m.HeartbeatActive())
}

func TestStaleHandshakeSuccessIsDiscarded(t *testing.T) {
	t.Parallel()

	first, second := make(chan error), make(chan error)
	transport := newFakeTransport()
	transport.gates = []chan error{first, second}
	m, _, ch := newTestManager(t, transport)

	firstErr := make(chan error, 1)
	go func() { firstErr <- m.Connect(context.Background(), "dev-1", "Alice") }()
	nextEvent(t, ch)
	m.Disconnect("dev-1", "")
	nextEvent(t, ch)

	secondErr := make(chan error, 1)
	go func() { secondErr <- m.Connect(context.Background(), "dev-1", "Alice") }()
	nextEvent(t, ch)

	first <- nil
	require.ErrorIs(t, <-firstErr, ErrAborted)
	assertNoEvent(t, ch)
	assert.False(t, m.HeartbeatActive())

	second <- errors.NewStd("rejected")
	require.Error(t, <-secondErr)
	ev := nextEvent(t, ch)
	assert.Equal(t, Disconnected, ev.State)
	assert.True(t, ev.IsError)
}
