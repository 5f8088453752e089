package tone

import (
	"sync"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/dualverify/internal/errors"
	"github.com/tphakala/dualverify/internal/logger"
)

// ErrWorkerClosed is returned by Submit after Close.
var ErrWorkerClosed = errors.NewStd("detector worker closed")

// WorkerStats reports DetectorWorker throughput.
type WorkerStats struct {
	Submitted uint64 // buffers accepted by Submit
	Dropped   uint64 // buffers rejected because the inbound queue was full
	Frames    uint64 // frames analysed
	Detected  uint64 // frames with a detection
	Lost      uint64 // events discarded because the consumer lagged
}

// DetectorWorker runs a Detector on its own goroutine. Raw PCM buffers go in
// through Submit and one DetectionEvent per frame comes out of Events. The
// worker owns its Detector and rolling buffer; nothing is shared with callers.
type DetectorWorker struct {
	detector  *Detector
	frameSize int // bytes per frame
	in        chan []byte
	out       chan DetectionEvent
	done      chan struct{}
	wg        sync.WaitGroup
	log       logger.Logger

	mu     sync.RWMutex
	closed bool

	submitted atomic.Uint64
	dropped   atomic.Uint64
	frames    atomic.Uint64
	detected  atomic.Uint64
	lost      atomic.Uint64
}

// NewDetectorWorker starts a worker around detector. queueSize bounds both
// the inbound buffer queue and the outbound event channel.
func NewDetectorWorker(detector *Detector, queueSize int, log logger.Logger) *DetectorWorker {
	if queueSize <= 0 {
		queueSize = 1
	}
	if log == nil {
		log = GetLogger()
	}

	w := &DetectorWorker{
		detector:  detector,
		frameSize: detector.FrameSize() * 2,
		in:        make(chan []byte, queueSize),
		out:       make(chan DetectionEvent, queueSize),
		done:      make(chan struct{}),
		log:       log.Module("worker"),
	}

	w.wg.Add(1)
	go w.run()

	return w
}

// Submit queues a copy of pcm for analysis without blocking. When the queue
// is full the buffer is dropped and counted.
func (w *DetectorWorker) Submit(pcm []byte) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrWorkerClosed
	}

	buf := make([]byte, len(pcm))
	copy(buf, pcm)

	select {
	case w.in <- buf:
		w.submitted.Add(1)
	default:
		if n := w.dropped.Add(1); n%100 == 1 {
			w.log.Warn("detector queue full, dropping audio",
				logger.Uint64("dropped_total", n),
				logger.Int("bytes", len(pcm)))
		}
	}
	return nil
}

// Events returns the detection stream. It is closed after Close.
func (w *DetectorWorker) Events() <-chan DetectionEvent {
	return w.out
}

// Stats returns a snapshot of the worker counters.
func (w *DetectorWorker) Stats() WorkerStats {
	return WorkerStats{
		Submitted: w.submitted.Load(),
		Dropped:   w.dropped.Load(),
		Frames:    w.frames.Load(),
		Detected:  w.detected.Load(),
		Lost:      w.lost.Load(),
	}
}

// Close stops the worker goroutine and waits for it to exit. Buffers still
// queued are discarded. Close is idempotent.
func (w *DetectorWorker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.done)
	w.mu.Unlock()

	w.wg.Wait()
}

func (w *DetectorWorker) run() {
	defer w.wg.Done()
	defer close(w.out)

	rb := ringbuffer.New(w.frameSize * 2)
	frame := make([]byte, w.frameSize)

	for {
		select {
		case <-w.done:
			return
		case buf := <-w.in:
			w.consume(rb, frame, buf)
		}
	}
}

// consume appends buf to the rolling buffer, analysing a frame every time a
// full one is available. Frames do not overlap and the remainder is kept for
// the next buffer.
func (w *DetectorWorker) consume(rb *ringbuffer.RingBuffer, frame, buf []byte) {
	for len(buf) > 0 {
		chunk := min(len(buf), rb.Free())
		n, err := rb.Write(buf[:chunk])
		if err != nil {
			w.log.Error("rolling buffer write failed", logger.Error(err), logger.Int("bytes", chunk))
			return
		}
		buf = buf[n:]

		for rb.Length() >= w.frameSize {
			if _, err := rb.Read(frame); err != nil {
				w.log.Error("rolling buffer read failed", logger.Error(err))
				return
			}
			w.emit(w.detector.Analyze(BytesToSamples(frame)))
		}
	}
}

func (w *DetectorWorker) emit(ev DetectionEvent) {
	w.frames.Add(1)
	if ev.Detected {
		w.detected.Add(1)
	}

	// Consumer lagging, never stall analysis
	select {
	case w.out <- ev:
	default:
		w.lost.Add(1)
	}
}
