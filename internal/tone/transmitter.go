package tone

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/dualverify/internal/errors"
	"github.com/tphakala/dualverify/internal/logger"
	"github.com/tphakala/dualverify/internal/timeutil"
)

// Sink is an audio output device accepting little-endian 16-bit mono PCM.
type Sink interface {
	Open() error
	Play(pcm []byte) error
	Close() error
}

// TransmitterState is a snapshot of the transmitter.
type TransmitterState struct {
	Transmitting bool
	ChirpsSent   uint64
	Err          error
}

// Transmitter plays a chirp on a Sink at a fixed interval.
type Transmitter struct {
	interval time.Duration
	pcm      []byte
	sink     Sink
	clock    timeutil.Clock
	log      logger.Logger

	opMu    sync.Mutex // serializes Start and Stop
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	loopCtx context.Context
	done    chan struct{}
	lastErr error

	chirps atomic.Uint64
}

// NewTransmitter renders the chirp once; every emission replays the same PCM.
func NewTransmitter(cfg ChirpConfig, interval time.Duration, sink Sink, clock timeutil.Clock, log logger.Logger) *Transmitter {
	if log == nil {
		log = GetLogger()
	}

	return &Transmitter{
		interval: interval,
		pcm:      EncodePCM16(GenerateChirp(cfg)),
		sink:     sink,
		clock:    timeutil.OrReal(clock),
		log:      log.Module("transmitter"),
	}
}

// Start opens the sink and begins emitting. Starting a running transmitter is
// a no-op. A sink that cannot be opened yields a HardwareUnavailable error and
// leaves the transmitter stopped. Cancelling ctx stops the transmitter the
// same way Stop does.
func (t *Transmitter) Start(ctx context.Context) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.Lock()
	if t.running && t.loopCtx.Err() != nil {
		// the previous loop is winding down after its context ended
		done := t.done
		t.mu.Unlock()
		<-done
		t.mu.Lock()
	}
	defer t.mu.Unlock()

	if t.running {
		return nil
	}

	if err := t.sink.Open(); err != nil {
		t.lastErr = errors.New(err).
			Component("tone").
			Category(errors.CategoryHardware).
			Context("operation", "open-output").
			Build()
		t.log.Error("failed to open audio output", logger.Error(err))
		return t.lastErr
	}

	loopCtx, cancel := context.WithCancel(ctx)
	t.running = true
	t.lastErr = nil
	t.cancel = cancel
	t.loopCtx = loopCtx
	t.done = make(chan struct{})

	go t.loop(loopCtx, t.done)

	t.log.Info("transmitter started",
		logger.Duration("interval", t.interval),
		logger.Int("chirp_bytes", len(t.pcm)))
	return nil
}

// Stop halts emission and waits for the emitter goroutine before closing the
// sink. Stopping a stopped transmitter is a no-op.
func (t *Transmitter) Stop() error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	t.cancel()
	done := t.done
	t.mu.Unlock()

	<-done

	if err := t.sink.Close(); err != nil {
		t.log.Warn("failed to close audio output", logger.Error(err))
		return err
	}

	t.log.Info("transmitter stopped", logger.Uint64("chirps_sent", t.chirps.Load()))
	return nil
}

// State returns a snapshot of the transmitter.
func (t *Transmitter) State() TransmitterState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return TransmitterState{
		Transmitting: t.running,
		ChirpsSent:   t.chirps.Load(),
		Err:          t.lastErr,
	}
}

// IsTransmitting reports whether the emitter is active.
func (t *Transmitter) IsTransmitting() bool {
	return t.State().Transmitting
}

func (t *Transmitter) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer t.release(done)

	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	if !t.play(ctx) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if !t.play(ctx) {
				return
			}
		}
	}
}

// play emits one chirp. On failure the transmitter is marked stopped with a
// StreamFailure and the sink is closed; the caller must Start again.
func (t *Transmitter) play(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	err := t.sink.Play(t.pcm)
	if err == nil {
		t.chirps.Add(1)
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Stop already owns teardown
	if !t.running || ctx.Err() != nil {
		return false
	}

	t.running = false
	t.cancel()
	t.lastErr = errors.New(err).
		Component("tone").
		Category(errors.CategoryStream).
		Context("operation", "play-chirp").
		Build()
	if cerr := t.sink.Close(); cerr != nil {
		t.log.Warn("failed to close audio output after playback error", logger.Error(cerr))
	}
	t.log.Error("chirp playback failed, transmitter stopped", logger.Error(err))
	return false
}

// release tears down a loop that ended because its context was cancelled.
// Stop and playback failures clear running themselves and own the teardown.
func (t *Transmitter) release(done chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running || t.done != done {
		return
	}
	t.running = false
	t.cancel()
	if err := t.sink.Close(); err != nil {
		t.log.Warn("failed to close audio output", logger.Error(err))
	}
	t.log.Info("transmitter stopped, context cancelled", logger.Uint64("chirps_sent", t.chirps.Load()))
}
