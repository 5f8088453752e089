package proximity

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/dualverify/internal/connection"
	"github.com/tphakala/dualverify/internal/errors"
	"github.com/tphakala/dualverify/internal/events"
	"github.com/tphakala/dualverify/internal/fusion"
	"github.com/tphakala/dualverify/internal/logger"
	"github.com/tphakala/dualverify/internal/radio"
	"github.com/tphakala/dualverify/internal/registry"
	"github.com/tphakala/dualverify/internal/timeutil"
	"github.com/tphakala/dualverify/internal/tone"
)

// ErrAlreadyRunning is returned by a second concurrent Run.
var ErrAlreadyRunning = errors.NewStd("engine already running")

// Components are the collaborators the engine drives. All are required.
type Components struct {
	Transmitter *tone.Transmitter
	Receiver    *tone.Receiver
	Radio       *radio.Aggregator
	Fusion      *fusion.Engine
	Connections *connection.Manager
	Registry    *registry.Registry
}

// Engine owns the event loop. Registry mutations and fusion evaluation only
// happen on the loop goroutine; commands delegate to the components, whose
// results flow back into the loop as events.
type Engine struct {
	cfg         Config
	transmitter *tone.Transmitter
	receiver    *tone.Receiver
	radio       *radio.Aggregator
	fusion      *fusion.Engine
	connections *connection.Manager
	registry    *registry.Registry
	clock       timeutil.Clock
	log         logger.Logger
	recorder    Recorder
	publisher   Publisher

	devicesBus *events.Broadcaster[[]DeviceStatus]
	outbound   chan outbound
	dropped    atomic.Uint64

	mu      sync.Mutex
	running bool
	pending map[string]struct{} // auto-connects in flight
	autoWG  sync.WaitGroup

	// loop goroutine only
	last map[string]fusion.Assessment
}

type outbound struct {
	connection   *connection.Event
	verification *fusion.Assessment
}

// NewEngine validates the components and applies options.
func NewEngine(cfg Config, c Components, clock timeutil.Clock, log logger.Logger, opts ...Option) (*Engine, error) {
	if c.Transmitter == nil || c.Receiver == nil || c.Radio == nil ||
		c.Fusion == nil || c.Connections == nil || c.Registry == nil {
		return nil, errors.Newf("proximity engine requires every component").
			Component("proximity").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.HousekeepingInterval <= 0 {
		cfg.HousekeepingInterval = DefaultHousekeepingInterval
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if log == nil {
		log = GetLogger()
	}

	e := &Engine{
		cfg:         cfg,
		transmitter: c.Transmitter,
		receiver:    c.Receiver,
		radio:       c.Radio,
		fusion:      c.Fusion,
		connections: c.Connections,
		registry:    c.Registry,
		clock:       timeutil.OrReal(clock),
		log:         log.Module("engine"),
		recorder:    nopRecorder{},
		devicesBus:  events.NewBroadcaster[[]DeviceStatus](),
		outbound:    make(chan outbound, publishQueueSize),
		pending:     make(map[string]struct{}),
		last:        make(map[string]fusion.Assessment),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run drives the event loop until ctx is cancelled. In-flight auto-connects
// are cancelled and awaited before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	// subscribe before the loop starts so no event is missed
	detections, cancelDetections := e.receiver.Subscribe(subscriptionBuffer)
	defer cancelDetections()
	connEvents, cancelConnEvents := e.connections.Subscribe(subscriptionBuffer)
	defer cancelConnEvents()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.loop(gctx, detections, connEvents)
	})
	if e.publisher != nil {
		g.Go(func() error {
			return e.publishLoop(gctx)
		})
	}

	e.log.Info("engine started",
		logger.Bool("auto_connect", e.cfg.AutoConnect),
		logger.Duration("housekeeping_interval", e.cfg.HousekeepingInterval))

	err := g.Wait()
	e.autoWG.Wait()

	e.log.Info("engine stopped")
	return err
}

func (e *Engine) loop(ctx context.Context, detections <-chan tone.DetectionEvent, connEvents <-chan connection.Event) error {
	housekeeping := e.clock.NewTicker(e.cfg.HousekeepingInterval)
	defer housekeeping.Stop()
	cleanup := e.clock.NewTicker(e.cfg.CleanupInterval)
	defer cleanup.Stop()

	radioUpdates := e.radio.Updates()

	for {
		select {
		case <-ctx.Done():
			return nil

		case list := <-radioUpdates:
			e.registry.ApplyRadio(list)
			e.evaluate(ctx)

		case ev, ok := <-detections:
			if !ok {
				detections = nil
				continue
			}
			e.recorder.RecordDetection(ev)
			e.registry.ApplyAudio(ev)
			if ev.Detected {
				e.evaluate(ctx)
			}

		case ev, ok := <-connEvents:
			if !ok {
				connEvents = nil
				continue
			}
			e.registry.ApplyConnection(ev)
			e.recorder.RecordConnectionEvent(ev)
			e.enqueue(outbound{connection: &ev})
			e.logConnectionEvent(ev)
			e.evaluate(ctx)

		case <-housekeeping.C():
			if n := e.registry.Expire(); n > 0 {
				e.log.Debug("devices expired", logger.Int("count", n))
			}
			e.evaluate(ctx)

		case <-cleanup.C():
			e.fusion.CleanupStale()
		}
	}
}

// evaluate runs fusion over every device, records verifications, launches
// auto-connects and publishes the device list.
func (e *Engine) evaluate(ctx context.Context) {
	audio := e.registry.AudioDetected()
	devices := e.registry.Devices()

	statuses := make([]DeviceStatus, 0, len(devices))
	next := make(map[string]fusion.Assessment, len(devices))
	var visible, verified int

	for _, d := range devices {
		a := e.fusion.Assess(d, audio)
		next[d.ID] = a

		if d.RadioVisible {
			visible++
		}
		if a.DualVerified {
			verified++
			e.fusion.RecordVerification(d.ID)
		}

		prev, seen := e.last[d.ID]
		if a.DualVerified && (!seen || !prev.DualVerified) {
			e.recorder.RecordVerification(a)
			e.enqueue(outbound{verification: &a})
		}
		if !seen || prev.Status != a.Status {
			e.log.Info("device status changed",
				logger.String("device_id", d.ID),
				logger.String("name", d.DisplayName),
				logger.String("status", a.Status),
				logger.Float64("confidence", a.Confidence))
		}

		if a.AutoConnect && e.cfg.AutoConnect {
			e.launchAutoConnect(ctx, d)
		}

		statuses = append(statuses, DeviceStatus{
			Device:       d,
			DualVerified: a.DualVerified,
			Confidence:   a.Confidence,
			Status:       a.Status,
		})
	}

	e.last = next
	e.recorder.RecordDevices(visible, verified)
	e.devicesBus.Publish(statuses)
}

func (e *Engine) launchAutoConnect(ctx context.Context, d registry.Device) {
	e.mu.Lock()
	if _, busy := e.pending[d.ID]; busy {
		e.mu.Unlock()
		return
	}
	e.pending[d.ID] = struct{}{}
	e.autoWG.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.autoWG.Done()
		defer func() {
			e.mu.Lock()
			delete(e.pending, d.ID)
			e.mu.Unlock()
		}()

		err := e.connections.AutoConnect(ctx, d.ID, d.DisplayName)
		switch {
		case err == nil:
		case errors.Is(err, connection.ErrAlreadyConnected), errors.Is(err, connection.ErrAlreadyConnecting):
		default:
			// the failure itself is reported through the connection event
			e.log.Debug("auto-connect failed", logger.String("device_id", d.ID), logger.Error(err))
		}
	}()
}

func (e *Engine) enqueue(msg outbound) {
	if e.publisher == nil {
		return
	}
	select {
	case e.outbound <- msg:
	default:
		if n := e.dropped.Add(1); n%100 == 1 {
			e.log.Warn("publish queue full, dropping message", logger.Uint64("dropped_total", n))
		}
	}
}

func (e *Engine) publishLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-e.outbound:
			var err error
			switch {
			case msg.connection != nil:
				err = e.publisher.PublishConnection(ctx, *msg.connection)
			case msg.verification != nil:
				err = e.publisher.PublishVerification(ctx, *msg.verification)
			}
			if err != nil && ctx.Err() == nil {
				e.log.Warn("publish failed", logger.Error(err))
			}
		}
	}
}

func (e *Engine) logConnectionEvent(ev connection.Event) {
	fields := []logger.Field{
		logger.String("device_id", ev.DeviceID),
		logger.String("name", ev.DeviceName),
		logger.String("state", string(ev.State)),
	}
	if ev.Message != "" {
		fields = append(fields, logger.String("message", ev.Message))
	}
	if ev.IsError {
		e.log.Warn("connection error", fields...)
		return
	}
	e.log.Info("connection state changed", fields...)
}

// IsRunning reports whether Run is active.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// DroppedPublishes returns how many outbound messages were discarded.
func (e *Engine) DroppedPublishes() uint64 {
	return e.dropped.Load()
}

type nopRecorder struct{}

func (nopRecorder) RecordDetection(tone.DetectionEvent)    {}
func (nopRecorder) RecordDevices(int, int)                 {}
func (nopRecorder) RecordVerification(fusion.Assessment)   {}
func (nopRecorder) RecordConnectionEvent(connection.Event) {}
