package tone

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/dualverify/internal/errors"
	"github.com/tphakala/dualverify/internal/events"
	"github.com/tphakala/dualverify/internal/logger"
	"github.com/tphakala/dualverify/internal/timeutil"
)

// Source is a capture device producing little-endian 16-bit mono PCM. onData
// receives buffers that are only valid for the duration of the call. onError
// reports a stream that has failed and will deliver no more data.
type Source interface {
	Start(ctx context.Context, onData func([]byte), onError func(error)) error
	Stop() error
}

// ReceiverState is a snapshot of the listening side.
type ReceiverState struct {
	Listening         bool
	Detected          bool
	LastPeakFrequency float64
	LastPeakMagnitude float64
	LastDetection     time.Time // zero until the first positive frame
	Err               error
	Worker            WorkerStats
}

// Receiver connects a capture Source to a DetectorWorker and publishes the
// resulting detection events.
type Receiver struct {
	source    Source
	cfg       DetectorConfig
	queueSize int
	clock     timeutil.Clock
	log       logger.Logger
	bus       *events.Broadcaster[DetectionEvent]

	opMu   sync.Mutex
	mu     sync.Mutex
	state  ReceiverState
	worker *DetectorWorker
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReceiver validates the detector configuration up front so that Start
// only fails on hardware.
func NewReceiver(source Source, cfg DetectorConfig, queueSize int, clock timeutil.Clock, log logger.Logger) (*Receiver, error) {
	if _, err := NewDetector(cfg, clock); err != nil {
		return nil, err
	}
	if log == nil {
		log = GetLogger()
	}

	return &Receiver{
		source:    source,
		cfg:       cfg,
		queueSize: queueSize,
		clock:     timeutil.OrReal(clock),
		log:       log.Module("receiver"),
		bus:       events.NewBroadcaster[DetectionEvent](),
	}, nil
}

// Subscribe returns a stream of every detection event produced while
// listening. Call cancel to unsubscribe.
func (r *Receiver) Subscribe(buffer int) (<-chan DetectionEvent, func()) {
	return r.bus.Subscribe(buffer)
}

// Start opens the capture source and a fresh detector worker. Starting while
// listening is a no-op. A source that cannot start yields HardwareUnavailable.
func (r *Receiver) Start(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	listening := r.state.Listening
	r.mu.Unlock()
	if listening {
		return nil
	}

	detector, err := NewDetector(r.cfg, r.clock)
	if err != nil {
		return err
	}
	worker := NewDetectorWorker(detector, r.queueSize, r.log)

	streamErr := make(chan error, 1)
	onData := func(pcm []byte) {
		_ = worker.Submit(pcm) // closed worker during teardown
	}
	onError := func(err error) {
		select {
		case streamErr <- err:
		default:
		}
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	if err := r.source.Start(sessionCtx, onData, onError); err != nil {
		cancel()
		worker.Close()

		hwErr := errors.New(err).
			Component("tone").
			Category(errors.CategoryHardware).
			Context("operation", "start-capture").
			Build()

		r.mu.Lock()
		r.state.Err = hwErr
		r.mu.Unlock()

		r.log.Error("failed to start audio capture", logger.Error(err))
		return hwErr
	}

	done := make(chan struct{})

	r.mu.Lock()
	r.state.Listening = true
	r.state.Err = nil
	r.worker = worker
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go r.session(sessionCtx, worker, streamErr, done)

	r.log.Info("receiver started", logger.String("detector", detector.String()))
	return nil
}

// Stop cancels the capture subscription and tears down the worker before
// returning. Stopping while not listening is a no-op.
func (r *Receiver) Stop() error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	if !r.state.Listening {
		r.mu.Unlock()
		return nil
	}
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done

	r.log.Info("receiver stopped")
	return nil
}

// Close stops listening and closes every subscription.
func (r *Receiver) Close() error {
	err := r.Stop()
	r.bus.Close()
	return err
}

// State returns a snapshot of the receiver.
func (r *Receiver) State() ReceiverState {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.state
	if r.worker != nil {
		s.Worker = r.worker.Stats()
	}
	return s
}

// IsListening reports whether capture is active.
func (r *Receiver) IsListening() bool {
	return r.State().Listening
}

// session forwards worker output until the context is cancelled or the
// stream fails. It owns teardown of the source and worker in both cases.
func (r *Receiver) session(ctx context.Context, worker *DetectorWorker, streamErr <-chan error, done chan struct{}) {
	defer close(done)

	var failure error
	results := worker.Events()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-streamErr:
			failure = err
			break loop
		case ev := <-results:
			r.record(ev)
			r.bus.Publish(ev)
		}
	}

	if err := r.source.Stop(); err != nil {
		r.log.Warn("failed to stop audio capture", logger.Error(err))
	}
	worker.Close()

	r.mu.Lock()
	r.state.Listening = false
	r.state.Worker = worker.Stats()
	r.worker = nil
	if failure != nil {
		r.state.Err = errors.New(failure).
			Component("tone").
			Category(errors.CategoryStream).
			Context("operation", "capture").
			Build()
	}
	r.cancel()
	r.mu.Unlock()

	if failure != nil {
		r.log.Error("audio stream failed, receiver stopped", logger.Error(failure))
	}
}

func (r *Receiver) record(ev DetectionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.Detected = ev.Detected
	r.state.LastPeakFrequency = ev.PeakFrequency
	r.state.LastPeakMagnitude = ev.PeakMagnitude
	if ev.Detected {
		r.state.LastDetection = ev.Timestamp
	}
}
