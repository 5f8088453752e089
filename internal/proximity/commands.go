package proximity

import (
	"context"

	"github.com/tphakala/dualverify/internal/connection"
	"github.com/tphakala/dualverify/internal/errors"
	"github.com/tphakala/dualverify/internal/radio"
)

// Devices returns every known device with its current verdict, closest
// first.
func (e *Engine) Devices() []DeviceStatus {
	audio := e.registry.AudioDetected()
	devices := e.registry.Devices()

	out := make([]DeviceStatus, 0, len(devices))
	for _, d := range devices {
		a := e.fusion.Assess(d, audio)
		out = append(out, DeviceStatus{Device: d, DualVerified: a.DualVerified, Confidence: a.Confidence, Status: a.Status})
	}
	return out
}

// Status returns the verdict for one device.
func (e *Engine) Status(id string) (DeviceStatus, bool) {
	d, ok := e.registry.Get(id)
	if !ok {
		return DeviceStatus{}, false
	}
	a := e.fusion.Assess(d, e.registry.AudioDetected())
	return DeviceStatus{Device: d, DualVerified: a.DualVerified, Confidence: a.Confidence, Status: a.Status}, true
}

// AudioState reports the listening and transmitting side together.
func (e *Engine) AudioState() AudioState {
	rs := e.receiver.State()
	ts := e.transmitter.State()

	return AudioState{
		Listening:         rs.Listening,
		Transmitting:      ts.Transmitting,
		Detected:          rs.Detected,
		LastPeakFrequency: rs.LastPeakFrequency,
		LastPeakMagnitude: rs.LastPeakMagnitude,
		Err:               errors.Join(rs.Err, ts.Err),
	}
}

// RadioState reports the radio subsystem.
func (e *Engine) RadioState() radio.State {
	return e.radio.State()
}

// SubscribeConnectionEvents streams connection events. Call cancel when done.
func (e *Engine) SubscribeConnectionEvents(buffer int) (<-chan connection.Event, func()) {
	return e.connections.Subscribe(buffer)
}

// SubscribeDevices streams the device list after every evaluation.
func (e *Engine) SubscribeDevices(buffer int) (<-chan []DeviceStatus, func()) {
	return e.devicesBus.Subscribe(buffer)
}

func (e *Engine) StartListening(ctx context.Context) error { return e.receiver.Start(ctx) }
func (e *Engine) StopListening() error                     { return e.receiver.Stop() }

func (e *Engine) StartTransmitting(ctx context.Context) error { return e.transmitter.Start(ctx) }
func (e *Engine) StopTransmitting() error                     { return e.transmitter.Stop() }

func (e *Engine) StartScanning(ctx context.Context) error { return e.radio.StartScanning(ctx) }
func (e *Engine) StopScanning()                           { e.radio.StopScanning() }

func (e *Engine) StartAdvertising(ctx context.Context) error { return e.radio.StartAdvertising(ctx) }
func (e *Engine) StopAdvertising() error                     { return e.radio.StopAdvertising() }

// RefreshAvailability re-checks the platform radio.
func (e *Engine) RefreshAvailability(ctx context.Context) bool {
	return e.radio.CheckAvailability(ctx)
}

// Connect starts a user-initiated connection to a known device.
func (e *Engine) Connect(ctx context.Context, id string) error {
	d, ok := e.registry.Get(id)
	if !ok {
		return errors.Newf("unknown device %q", id).
			Component("proximity").
			Category(errors.CategoryNotFound).
			Context("device_id", id).
			Build()
	}
	return e.connections.Connect(ctx, id, d.DisplayName)
}

// Disconnect drops the connection to id. Unknown or idle devices are a no-op.
func (e *Engine) Disconnect(id string) {
	var name string
	if d, ok := e.registry.Get(id); ok {
		name = d.DisplayName
	}
	e.connections.Disconnect(id, name)
}

// Close stops every subsystem and ends all subscriptions. Run should have
// returned first.
func (e *Engine) Close() error {
	var errs []error

	if err := e.transmitter.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := e.receiver.Close(); err != nil {
		errs = append(errs, err)
	}
	e.radio.StopScanning()
	if err := e.radio.StopAdvertising(); err != nil {
		errs = append(errs, err)
	}
	e.connections.Close()
	e.devicesBus.Close()

	return errors.Join(errs...)
}
