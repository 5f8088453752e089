// Package proximity wires the tone, radio, fusion and connection components
// into one event loop and exposes the command surface used by front ends.
package proximity

import (
	"context"
	"time"

	"github.com/tphakala/dualverify/internal/connection"
	"github.com/tphakala/dualverify/internal/fusion"
	"github.com/tphakala/dualverify/internal/registry"
	"github.com/tphakala/dualverify/internal/tone"
)

const (
	DefaultHousekeepingInterval = time.Second
	DefaultCleanupInterval      = 30 * time.Second

	subscriptionBuffer = 64
	publishQueueSize   = 64
)

// Config controls the engine loop.
type Config struct {
	AutoConnect          bool
	HousekeepingInterval time.Duration // registry expiry and re-evaluation
	CleanupInterval      time.Duration // verification record purge
}

// DeviceStatus is a registry device together with its fusion verdict.
type DeviceStatus struct {
	registry.Device
	DualVerified bool
	Confidence   float64
	Status       string
}

// AudioState merges the transmitter and receiver state.
type AudioState struct {
	Listening         bool
	Transmitting      bool
	Detected          bool
	LastPeakFrequency float64
	LastPeakMagnitude float64
	Err               error
}

// Recorder receives engine observations, typically for metrics.
type Recorder interface {
	RecordDetection(ev tone.DetectionEvent)
	RecordDevices(visible, verified int)
	RecordVerification(a fusion.Assessment)
	RecordConnectionEvent(ev connection.Event)
}

// Publisher forwards decisions to an external system. Calls happen on a
// dedicated goroutine, never on the engine loop.
type Publisher interface {
	PublishConnection(ctx context.Context, ev connection.Event) error
	PublishVerification(ctx context.Context, a fusion.Assessment) error
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithPublisher attaches an outbound publisher.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}
