package connection

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/dualverify/internal/errors"
	"github.com/tphakala/dualverify/internal/events"
	"github.com/tphakala/dualverify/internal/logger"
	"github.com/tphakala/dualverify/internal/timeutil"
)

// DefaultHeartbeatInterval is used when Config leaves the interval unset.
const DefaultHeartbeatInterval = 10 * time.Second

// Config holds Manager settings.
type Config struct {
	HeartbeatInterval time.Duration
}

// Stats counts manager activity since creation.
type Stats struct {
	Attempts          uint64
	Failures          uint64
	Heartbeats        uint64
	HeartbeatFailures uint64
}

// Manager is the only writer of connection state. Every transition is
// published as an Event in the order it happened.
type Manager struct {
	cfg       Config
	transport Transport
	clock     timeutil.Clock
	log       logger.Logger
	bus       *events.Broadcaster[Event]

	mu       sync.Mutex
	states   map[string]State
	names    map[string]string
	attempt  map[string]uint64 // bumped each time a device enters Connecting
	hbCancel context.CancelFunc
	closed   bool
	wg       sync.WaitGroup

	attempts          atomic.Uint64
	failures          atomic.Uint64
	heartbeats        atomic.Uint64
	heartbeatFailures atomic.Uint64
}

// NewManager creates a manager with every device disconnected.
func NewManager(cfg Config, transport Transport, clock timeutil.Clock, log logger.Logger) *Manager {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if log == nil {
		log = GetLogger()
	}

	return &Manager{
		cfg:       cfg,
		transport: transport,
		clock:     timeutil.OrReal(clock),
		log:       log.Module("manager"),
		bus:       events.NewBroadcaster[Event](),
		states:    make(map[string]State),
		names:     make(map[string]string),
		attempt:   make(map[string]uint64),
	}
}

// Subscribe returns a stream of connection events. Slow subscribers lose
// events instead of blocking the manager.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	return m.bus.Subscribe(buffer)
}

// Connect runs the handshake for id. It fails without emitting anything when
// the device is already connected or connecting. A failed handshake reverts
// the device to disconnected, emits an error event and returns a
// ConnectionFailure. There is no retry.
func (m *Manager) Connect(ctx context.Context, id, name string) error {
	return m.connect(ctx, id, name, "")
}

// AutoConnect is Connect with events tagged AutoConnectMessage.
func (m *Manager) AutoConnect(ctx context.Context, id, name string) error {
	return m.connect(ctx, id, name, AutoConnectMessage)
}

func (m *Manager) connect(ctx context.Context, id, name, tag string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	switch m.states[id] {
	case Connected:
		m.mu.Unlock()
		return errors.New(ErrAlreadyConnected).
			Component("connection").
			Category(errors.CategoryState).
			Context("device_id", id).
			Build()
	case Connecting:
		m.mu.Unlock()
		return errors.New(ErrAlreadyConnecting).
			Component("connection").
			Category(errors.CategoryState).
			Context("device_id", id).
			Build()
	}
	if name != "" {
		m.names[id] = name
	}
	m.attempt[id]++
	token := m.attempt[id]
	m.transitionLocked(id, Connecting, tag, false)
	m.mu.Unlock()

	m.attempts.Add(1)
	start := m.clock.Now()
	hsErr := m.transport.Handshake(ctx, id)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.states[id] != Connecting || m.attempt[id] != token {
		// disconnected while the handshake was in flight, possibly followed
		// by a newer attempt that owns the Connecting state now
		return errors.New(ErrAborted).
			Component("connection").
			Category(errors.CategoryConnection).
			Context("device_id", id).
			Build()
	}

	if hsErr != nil {
		m.failures.Add(1)
		m.transitionLocked(id, Disconnected, withTag(tag, "handshake failed: "+hsErr.Error()), true)
		m.log.Warn("connection failed",
			logger.String("device_id", id),
			logger.String("reason", hsErr.Error()))
		// peers walking out of range fail handshakes routinely
		return errors.New(hsErr).
			Component("connection").
			Category(errors.CategoryConnection).
			Priority(errors.PriorityLow).
			Context("device_id", id).
			Timing("handshake", m.clock.Since(start)).
			Build()
	}

	m.transitionLocked(id, Connected, tag, false)
	m.startHeartbeatLocked()
	m.log.Info("device connected",
		logger.String("device_id", id),
		logger.String("name", m.names[id]),
		logger.Duration("handshake", m.clock.Since(start)))
	return nil
}

// Disconnect moves id to disconnected. It is a no-op for a device that is
// already disconnected or unknown.
func (m *Manager) Disconnect(id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state, ok := m.states[id]; !ok || state == Disconnected {
		return
	}
	if name != "" {
		m.names[id] = name
	}
	m.transitionLocked(id, Disconnected, "", false)
	m.stopHeartbeatIfIdleLocked()
	m.log.Info("device disconnected", logger.String("device_id", id))
}

// State returns the state of id; unknown devices are disconnected.
func (m *Manager) State(id string) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state, ok := m.states[id]; ok {
		return state
	}
	return Disconnected
}

// ConnectedDevices returns the sorted IDs of connected devices.
func (m *Manager) ConnectedDevices() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectedLocked()
}

// HeartbeatActive reports whether the heartbeat is running.
func (m *Manager) HeartbeatActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hbCancel != nil
}

func (m *Manager) Stats() Stats {
	return Stats{
		Attempts:          m.attempts.Load(),
		Failures:          m.failures.Load(),
		Heartbeats:        m.heartbeats.Load(),
		HeartbeatFailures: m.heartbeatFailures.Load(),
	}
}

// Close stops the heartbeat and ends all subscriptions. Device states are
// left as they are.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.hbCancel != nil {
		m.hbCancel()
		m.hbCancel = nil
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.bus.Close()
}

func (m *Manager) transitionLocked(id string, state State, message string, isError bool) {
	m.states[id] = state
	m.bus.Publish(Event{
		DeviceID:   id,
		DeviceName: m.names[id],
		State:      state,
		Timestamp:  m.clock.Now(),
		Message:    message,
		IsError:    isError,
	})
}

func (m *Manager) connectedLocked() []string {
	var ids []string
	for id, state := range m.states {
		if state == Connected {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func (m *Manager) startHeartbeatLocked() {
	if m.hbCancel != nil || m.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.hbCancel = cancel
	m.wg.Add(1)
	go m.heartbeatLoop(ctx)
	m.log.Debug("heartbeat started", logger.Duration("interval", m.cfg.HeartbeatInterval))
}

func (m *Manager) stopHeartbeatIfIdleLocked() {
	if m.hbCancel == nil || len(m.connectedLocked()) > 0 {
		return
	}
	m.hbCancel()
	m.hbCancel = nil
	m.log.Debug("heartbeat stopped")
}

func (m *Manager) heartbeatLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := m.clock.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.beat(ctx)
		}
	}
}

func (m *Manager) beat(ctx context.Context) {
	for _, id := range m.ConnectedDevices() {
		err := m.transport.Heartbeat(ctx, id)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			m.heartbeats.Add(1)
			continue
		}

		m.heartbeatFailures.Add(1)
		m.mu.Lock()
		if m.states[id] == Connected {
			m.transitionLocked(id, Disconnected, "heartbeat failed: "+err.Error(), true)
			m.stopHeartbeatIfIdleLocked()
		}
		m.mu.Unlock()
		m.log.Warn("heartbeat failed, device disconnected",
			logger.String("device_id", id),
			logger.Error(err))
	}
}

func withTag(tag, msg string) string {
	if tag == "" {
		return msg
	}
	return tag + ": " + msg
}
