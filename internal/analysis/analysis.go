// Package analysis assembles the proximity engine from settings and runs it
// in realtime, listen-only, scan-only or offline file mode.
package analysis

import (
	"github.com/google/uuid"

	"github.com/tphakala/dualverify/internal/conf"
	"github.com/tphakala/dualverify/internal/connection"
	"github.com/tphakala/dualverify/internal/errors"
	"github.com/tphakala/dualverify/internal/fusion"
	"github.com/tphakala/dualverify/internal/logger"
	"github.com/tphakala/dualverify/internal/myaudio"
	"github.com/tphakala/dualverify/internal/proximity"
	"github.com/tphakala/dualverify/internal/radio"
	"github.com/tphakala/dualverify/internal/radio/ble"
	"github.com/tphakala/dualverify/internal/registry"
	"github.com/tphakala/dualverify/internal/timeutil"
	"github.com/tphakala/dualverify/internal/tone"
)

// GetLogger returns the analysis package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("analysis")
}

// DetectorConfig maps the audio settings onto the tone detector.
func DetectorConfig(settings *conf.Settings) tone.DetectorConfig {
	return tone.DetectorConfig{
		SampleRate:      settings.Audio.SampleRate,
		FFTSize:         settings.Audio.FFTSize,
		TargetFrequency: settings.Audio.TargetFrequency,
		Tolerance:       settings.Audio.Tolerance,
		Threshold:       settings.Audio.DetectionThreshold,
	}
}

// ChirpConfig maps the chirp settings onto the transmitter. The chirp is
// emitted at the frequency the detector listens for.
func ChirpConfig(settings *conf.Settings) tone.ChirpConfig {
	return tone.ChirpConfig{
		SampleRate:  settings.Audio.SampleRate,
		Frequency:   settings.Audio.TargetFrequency,
		Duration:    settings.Chirp.Duration,
		Amplitude:   settings.Chirp.Amplitude,
		FadeSamples: settings.Chirp.FadeSamples,
	}
}

// RadioConfig maps the radio settings onto the aggregator.
func RadioConfig(settings *conf.Settings) (radio.Config, error) {
	service, err := uuid.Parse(settings.Radio.ServiceUUID)
	if err != nil {
		return radio.Config{}, errors.New(err).
			Component("analysis").
			Category(errors.CategoryConfiguration).
			Context("service_uuid", settings.Radio.ServiceUUID).
			Build()
	}
	return radio.Config{
		ServiceUUID:      service,
		RSSIThreshold:    settings.Radio.RSSIThreshold,
		StalenessWindow:  settings.Radio.StalenessWindow,
		SweepInterval:    settings.Radio.SweepInterval,
		ScanTimeout:      settings.Radio.ScanTimeout,
		RSSIAt1m:         settings.Radio.RSSIAt1m,
		PathLossExponent: settings.Radio.PathLossExponent,
		AdvertiseName:    settings.Main.Name,
	}, nil
}

// EngineConfig maps the fusion and engine settings onto the event loop.
func EngineConfig(settings *conf.Settings) proximity.Config {
	return proximity.Config{
		AutoConnect:          settings.Fusion.AutoConnect,
		HousekeepingInterval: settings.Engine.HousekeepingInterval,
		CleanupInterval:      settings.Fusion.CleanupInterval,
	}
}

// NewReceiver builds a receiver on the configured capture device.
func NewReceiver(settings *conf.Settings, clock timeutil.Clock) (*tone.Receiver, error) {
	source := myaudio.NewCaptureSource(settings.Audio.Source, settings.Audio.SampleRate, nil)
	return tone.NewReceiver(source, DetectorConfig(settings), settings.Audio.QueueSize, clock, nil)
}

// NewAggregator builds a radio aggregator on the host Bluetooth adapter.
func NewAggregator(settings *conf.Settings, clock timeutil.Clock) (*radio.Aggregator, error) {
	cfg, err := RadioConfig(settings)
	if err != nil {
		return nil, err
	}
	scanner, err := ble.NewScanner(cfg.ServiceUUID, nil)
	if err != nil {
		return nil, err
	}
	var advertiser radio.Advertiser
	if settings.Radio.Advertise {
		advertiser = ble.NewAdvertiser(nil)
	}
	return radio.NewAggregator(cfg, scanner, advertiser, clock, nil), nil
}

// NewComponents builds every engine component on real hardware. Nothing is
// opened until the engine is started.
func NewComponents(settings *conf.Settings, clock timeutil.Clock) (proximity.Components, error) {
	receiver, err := NewReceiver(settings, clock)
	if err != nil {
		return proximity.Components{}, err
	}
	aggregator, err := NewAggregator(settings, clock)
	if err != nil {
		return proximity.Components{}, err
	}

	sink := myaudio.NewPlaybackSink(settings.Chirp.Output, settings.Audio.SampleRate, nil)
	transport := connection.NewSimulatedTransport(settings.Connection.HandshakeDelay, clock)

	return proximity.Components{
		Transmitter: tone.NewTransmitter(ChirpConfig(settings), settings.Chirp.Interval, sink, clock, nil),
		Receiver:    receiver,
		Radio:       aggregator,
		Fusion: fusion.NewEngine(fusion.Config{
			ValidityWindow:       settings.Fusion.ValidityWindow,
			AutoConnectThreshold: settings.Fusion.AutoConnectThreshold,
		}, clock, nil),
		Connections: connection.NewManager(connection.Config{
			HeartbeatInterval: settings.Connection.HeartbeatInterval,
		}, transport, clock, nil),
		Registry: registry.New(registry.Config{
			AudioStaleness: settings.Audio.StalenessWindow,
			RadioStaleness: settings.Radio.StalenessWindow,
		}, clock),
	}, nil
}
