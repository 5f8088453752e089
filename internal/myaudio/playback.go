package myaudio

import (
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/dualverify/internal/errors"
	"github.com/tphakala/dualverify/internal/logger"
)

// maxPendingBytes bounds queued playback; older audio is discarded first.
const maxPendingBytes = 1 << 20

// PlaybackSink plays mono 16-bit PCM on an output device. Play queues audio
// and returns immediately; the device callback drains the queue and outputs
// silence when it is empty.
type PlaybackSink struct {
	deviceName string
	sampleRate int
	log        logger.Logger

	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	pending  []byte
	failed   atomic.Bool
	stopping atomic.Bool
}

// NewPlaybackSink creates a sink for the named device; an empty name selects
// the system default.
func NewPlaybackSink(deviceName string, sampleRate int, log logger.Logger) *PlaybackSink {
	if log == nil {
		log = GetLogger()
	}
	return &PlaybackSink{
		deviceName: deviceName,
		sampleRate: sampleRate,
		log:        log.Module("playback"),
	}
}

// Open initializes and starts the output device.
func (p *PlaybackSink) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.device != nil {
		return nil
	}

	malgoCtx, err := initContext(p.log)
	if err != nil {
		return err
	}

	info, err := selectDevice(malgoCtx, malgo.Playback, p.deviceName)
	if err != nil {
		freeContext(malgoCtx)
		return err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = numChannels
	deviceConfig.SampleRate = uint32(p.sampleRate)
	deviceConfig.Alsa.NoMMap = 1
	if info != nil {
		deviceConfig.Playback.DeviceID = info.ID.Pointer()
	}

	p.failed.Store(false)
	p.stopping.Store(false)
	p.pending = p.pending[:0]

	callbacks := malgo.DeviceCallbacks{
		Data: p.fill,
		Stop: func() {
			if !p.stopping.Load() {
				p.log.Warn("playback device stopped unexpectedly")
				p.failed.Store(true)
			}
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		freeContext(malgoCtx)
		return errors.New(err).
			Component("myaudio").
			Category(errors.CategoryHardware).
			Context("operation", "init-playback-device").
			Context("device", p.deviceName).
			Build()
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(malgoCtx)
		return errors.New(err).
			Component("myaudio").
			Category(errors.CategoryHardware).
			Context("operation", "start-playback-device").
			Build()
	}

	p.malgoCtx = malgoCtx
	p.device = device
	return nil
}

// Play queues pcm for output. It fails once the device has stopped.
func (p *PlaybackSink) Play(pcm []byte) error {
	if p.failed.Load() {
		return ErrDeviceStopped
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.device == nil {
		return errors.Newf("playback device not open").
			Component("myaudio").
			Category(errors.CategoryState).
			Build()
	}

	p.pending = append(p.pending, pcm...)
	if over := len(p.pending) - maxPendingBytes; over > 0 {
		// keep sample alignment
		over += over & 1
		p.pending = p.pending[over:]
	}
	return nil
}

// Close stops and releases the device. It is safe to call when not open.
func (p *PlaybackSink) Close() error {
	p.mu.Lock()
	device, malgoCtx := p.device, p.malgoCtx
	p.device = nil
	p.malgoCtx = nil
	p.pending = nil
	p.mu.Unlock()

	if device == nil {
		return nil
	}

	// the data callback takes p.mu, so the device is stopped without it
	p.stopping.Store(true)
	err := device.Stop()
	device.Uninit()
	freeContext(malgoCtx)

	return err
}

// fill runs on the audio thread.
func (p *PlaybackSink) fill(pOutputSample, _ []byte, _ uint32) {
	p.mu.Lock()
	n := copy(pOutputSample, p.pending)
	p.pending = p.pending[n:]
	p.mu.Unlock()

	clear(pOutputSample[n:])
}
