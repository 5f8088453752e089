package myaudio

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/dualverify/internal/errors"
	"github.com/tphakala/dualverify/internal/logger"
)

// ErrDeviceStopped is reported when the device stops without Stop being called,
// e.g. when a USB microphone is unplugged.
var ErrDeviceStopped = errors.NewStd("audio device stopped unexpectedly")

// CaptureSource records mono 16-bit PCM from a microphone.
type CaptureSource struct {
	deviceName string
	sampleRate int
	log        logger.Logger

	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	stopping atomic.Bool

	level atomic.Uint64 // float64 bits of the last buffer's dBFS level
}

// NewCaptureSource creates a source for the named device; an empty name
// selects the system default.
func NewCaptureSource(deviceName string, sampleRate int, log logger.Logger) *CaptureSource {
	if log == nil {
		log = GetLogger()
	}
	s := &CaptureSource{
		deviceName: deviceName,
		sampleRate: sampleRate,
		log:        log.Module("capture"),
	}
	s.level.Store(math.Float64bits(math.Inf(-1)))
	return s
}

// Start opens and starts the capture device. onData is invoked on the audio
// thread; the buffer is reused after it returns.
func (s *CaptureSource) Start(_ context.Context, onData func([]byte), onError func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device != nil {
		return nil
	}

	malgoCtx, err := initContext(s.log)
	if err != nil {
		return err
	}

	info, err := selectDevice(malgoCtx, malgo.Capture, s.deviceName)
	if err != nil {
		freeContext(malgoCtx)
		return err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = numChannels
	deviceConfig.SampleRate = uint32(s.sampleRate)
	deviceConfig.Alsa.NoMMap = 1
	if info != nil {
		deviceConfig.Capture.DeviceID = info.ID.Pointer()
	}

	s.stopping.Store(false)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			s.level.Store(math.Float64bits(LevelDBFS(pInputSamples)))
			onData(pInputSamples)
		},
		Stop: func() {
			if s.stopping.Load() {
				return
			}
			s.log.Warn("capture device stopped unexpectedly")
			onError(ErrDeviceStopped)
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		freeContext(malgoCtx)
		return errors.New(err).
			Component("myaudio").
			Category(errors.CategoryHardware).
			Context("operation", "init-capture-device").
			Context("device", s.deviceName).
			Build()
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(malgoCtx)
		return errors.New(err).
			Component("myaudio").
			Category(errors.CategoryHardware).
			Context("operation", "start-capture-device").
			Build()
	}

	s.malgoCtx = malgoCtx
	s.device = device

	name := "system default"
	if info != nil {
		name = info.Name()
	}
	s.log.Info("capture started",
		logger.String("device", name),
		logger.Int("sample_rate", s.sampleRate))
	return nil
}

// Stop stops and releases the capture device. It is safe to call when not started.
func (s *CaptureSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		return nil
	}

	s.stopping.Store(true)
	err := s.device.Stop()
	s.device.Uninit()
	freeContext(s.malgoCtx)
	s.device = nil
	s.malgoCtx = nil

	if err != nil {
		return errors.New(err).
			Component("myaudio").
			Category(errors.CategoryStream).
			Context("operation", "stop-capture-device").
			Build()
	}
	return nil
}

// Level returns the dBFS level of the most recent capture buffer.
func (s *CaptureSource) Level() float64 {
	return math.Float64frombits(s.level.Load())
}

func freeContext(ctx *malgo.AllocatedContext) {
	if ctx == nil {
		return
	}
	_ = ctx.Uninit()
	ctx.Free()
}
