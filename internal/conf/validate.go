package conf

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, validate := range []func(*Settings) []string{
		validateAudioSettings,
		validateChirpSettings,
		validateRadioSettings,
		validateFusionSettings,
		validateConnectionSettings,
		validateTelemetrySettings,
		validateMQTTSettings,
	} {
		ve.Errors = append(ve.Errors, validate(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateAudioSettings(s *Settings) []string {
	var errs []string
	a := &s.Audio

	if a.SampleRate <= 0 {
		errs = append(errs, fmt.Sprintf("audio.samplerate must be positive, got %d", a.SampleRate))
	}
	if a.FFTSize < 2 {
		errs = append(errs, fmt.Sprintf("audio.fftsize must be at least 2, got %d", a.FFTSize))
	}
	if a.TargetFrequency <= 0 {
		errs = append(errs, fmt.Sprintf("audio.targetfrequency must be positive, got %g", a.TargetFrequency))
	} else if a.SampleRate > 0 && a.TargetFrequency >= float64(a.SampleRate)/2 {
		errs = append(errs, fmt.Sprintf("audio.targetfrequency %g Hz is above the Nyquist limit of %d Hz",
			a.TargetFrequency, a.SampleRate/2))
	}
	if a.Tolerance <= 0 {
		errs = append(errs, fmt.Sprintf("audio.tolerance must be positive, got %g", a.Tolerance))
	}
	if a.DetectionThreshold <= 0 {
		errs = append(errs, fmt.Sprintf("audio.detectionthreshold must be positive, got %g", a.DetectionThreshold))
	}
	if a.StalenessWindow <= 0 {
		errs = append(errs, "audio.stalenesswindow must be positive")
	}
	if a.QueueSize <= 0 {
		errs = append(errs, fmt.Sprintf("audio.queuesize must be positive, got %d", a.QueueSize))
	}

	return errs
}

func validateChirpSettings(s *Settings) []string {
	var errs []string
	c := &s.Chirp

	if c.Amplitude < 0 || c.Amplitude > 1 {
		errs = append(errs, fmt.Sprintf("chirp.amplitude must be between 0 and 1, got %g", c.Amplitude))
	}
	if c.Duration <= 0 {
		errs = append(errs, "chirp.duration must be positive")
	}
	if c.Interval <= c.Duration {
		errs = append(errs, fmt.Sprintf("chirp.interval (%s) must be longer than chirp.duration (%s)", c.Interval, c.Duration))
	}
	if c.FadeSamples < 0 {
		errs = append(errs, fmt.Sprintf("chirp.fadesamples cannot be negative, got %d", c.FadeSamples))
	}

	return errs
}

func validateRadioSettings(s *Settings) []string {
	var errs []string
	r := &s.Radio

	if _, err := uuid.Parse(r.ServiceUUID); err != nil {
		errs = append(errs, fmt.Sprintf("radio.serviceuuid %q is not a valid UUID: %v", r.ServiceUUID, err))
	}
	if r.RSSIThreshold > 0 || r.RSSIThreshold < -127 {
		errs = append(errs, fmt.Sprintf("radio.rssithreshold must be between -127 and 0 dBm, got %d", r.RSSIThreshold))
	}
	if r.StalenessWindow <= 0 {
		errs = append(errs, "radio.stalenesswindow must be positive")
	}
	if r.SweepInterval <= 0 {
		errs = append(errs, "radio.sweepinterval must be positive")
	}
	if r.ScanTimeout <= 0 {
		errs = append(errs, "radio.scantimeout must be positive")
	}
	if r.PathLossExponent <= 0 {
		errs = append(errs, fmt.Sprintf("radio.pathlossexponent must be positive, got %g", r.PathLossExponent))
	}

	return errs
}

func validateFusionSettings(s *Settings) []string {
	var errs []string
	f := &s.Fusion

	if f.ValidityWindow <= 0 {
		errs = append(errs, "fusion.validitywindow must be positive")
	}
	if f.AutoConnectThreshold < 0 || f.AutoConnectThreshold > 1 {
		errs = append(errs, fmt.Sprintf("fusion.autoconnectthreshold must be between 0 and 1, got %g", f.AutoConnectThreshold))
	}
	if f.CleanupInterval <= 0 {
		errs = append(errs, "fusion.cleanupinterval must be positive")
	}
	if s.Engine.HousekeepingInterval <= 0 {
		errs = append(errs, "engine.housekeepinginterval must be positive")
	}

	return errs
}

func validateConnectionSettings(s *Settings) []string {
	var errs []string

	if s.Connection.HeartbeatInterval <= 0 {
		errs = append(errs, "connection.heartbeatinterval must be positive")
	}
	if s.Connection.HandshakeDelay < 0 {
		errs = append(errs, "connection.handshakedelay cannot be negative")
	}

	return errs
}

func validateTelemetrySettings(s *Settings) []string {
	if !s.Telemetry.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(s.Telemetry.Listen); err != nil {
		return []string{fmt.Sprintf("telemetry.listen %q is not a valid host:port: %v", s.Telemetry.Listen, err)}
	}
	return nil
}

func validateMQTTSettings(s *Settings) []string {
	m := &s.MQTT
	if !m.Enabled {
		return nil
	}

	var errs []string
	if m.Broker == "" {
		errs = append(errs, "mqtt.broker is required when mqtt is enabled")
	} else if u, err := url.Parse(m.Broker); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("mqtt.broker %q must be a URL such as tcp://host:1883", m.Broker))
	}
	if m.Topic == "" {
		errs = append(errs, "mqtt.topic is required when mqtt is enabled")
	}
	if m.QoS < 0 || m.QoS > 2 {
		errs = append(errs, fmt.Sprintf("mqtt.qos must be 0, 1 or 2, got %d", m.QoS))
	}
	if m.RateLimit <= 0 {
		errs = append(errs, fmt.Sprintf("mqtt.ratelimit must be positive, got %g", m.RateLimit))
	}

	return errs
}
