// Package conf holds the settings of the proximity engine. Values come from
// defaults, an optional config.yaml, DUALVERIFY_* environment variables and
// command line flags, in increasing order of precedence.
package conf

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/dualverify/internal/errors"
	"github.com/tphakala/dualverify/internal/logger"
)

//go:embed config.yaml
var defaultConfigYAML []byte

// Settings contains all configuration options.
type Settings struct {
	Debug   bool   `yaml:"debug"`
	Version string `yaml:"-"` // set at build time

	Main struct {
		Name string `yaml:"name"` // device name used when advertising
	} `yaml:"main"`

	Audio      AudioSettings        `yaml:"audio"`
	Chirp      ChirpSettings        `yaml:"chirp"`
	Radio      RadioSettings        `yaml:"radio"`
	Fusion     FusionSettings       `yaml:"fusion"`
	Connection ConnectionSettings   `yaml:"connection"`
	Engine     EngineSettings       `yaml:"engine"`
	Logging    logger.LoggingConfig `yaml:"logging"`
	Telemetry  TelemetrySettings    `yaml:"telemetry"`
	Sentry     SentrySettings       `yaml:"sentry"`
	MQTT       MQTTSettings         `yaml:"mqtt"`
}

// AudioSettings configures capture and tone detection.
type AudioSettings struct {
	Source             string        `yaml:"source"`             // capture device name, empty for system default
	SampleRate         int           `yaml:"samplerate"`         // Hz
	TargetFrequency    float64       `yaml:"targetfrequency"`    // Hz
	Tolerance          float64       `yaml:"tolerance"`          // Hz either side of the target
	FFTSize            int           `yaml:"fftsize"`            // samples per analysis frame
	DetectionThreshold float64       `yaml:"detectionthreshold"` // peak magnitude required for a detection
	StalenessWindow    time.Duration `yaml:"stalenesswindow"`    // how long a detection keeps devices audio-verified
	QueueSize          int           `yaml:"queuesize"`          // detector worker inbound buffers
}

// ChirpSettings configures the tone transmitter.
type ChirpSettings struct {
	Output      string        `yaml:"output"` // playback device name, empty for system default
	Duration    time.Duration `yaml:"duration"`
	Interval    time.Duration `yaml:"interval"`
	Amplitude   float64       `yaml:"amplitude"`   // 0.0 - 1.0
	FadeSamples int           `yaml:"fadesamples"` // linear ramp length at each edge
}

// RadioSettings configures discovery.
type RadioSettings struct {
	ServiceUUID      string        `yaml:"serviceuuid"`
	RSSIThreshold    int           `yaml:"rssithreshold"` // dBm
	StalenessWindow  time.Duration `yaml:"stalenesswindow"`
	SweepInterval    time.Duration `yaml:"sweepinterval"`
	ScanTimeout      time.Duration `yaml:"scantimeout"`
	RSSIAt1m         float64       `yaml:"rssiat1m"`
	PathLossExponent float64       `yaml:"pathlossexponent"`
	Advertise        bool          `yaml:"advertise"`
}

// FusionSettings configures verification.
type FusionSettings struct {
	ValidityWindow       time.Duration `yaml:"validitywindow"`
	AutoConnectThreshold float64       `yaml:"autoconnectthreshold"`
	CleanupInterval      time.Duration `yaml:"cleanupinterval"`
	AutoConnect          bool          `yaml:"autoconnect"`
}

// ConnectionSettings configures the connection manager.
type ConnectionSettings struct {
	HeartbeatInterval time.Duration `yaml:"heartbeatinterval"`
	HandshakeDelay    time.Duration `yaml:"handshakedelay"` // simulated handshake duration
}

// EngineSettings configures the event loop.
type EngineSettings struct {
	HousekeepingInterval time.Duration `yaml:"housekeepinginterval"`
}

// TelemetrySettings configures the Prometheus endpoint.
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// SentrySettings configures error reporting.
type SentrySettings struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// MQTTSettings configures event publishing.
type MQTTSettings struct {
	Enabled   bool          `yaml:"enabled"`
	Broker    string        `yaml:"broker"`
	Topic     string        `yaml:"topic"` // base topic, events go to <topic>/connection and <topic>/verification
	ClientID  string        `yaml:"clientid"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	QoS       int           `yaml:"qos"`
	Retain    bool          `yaml:"retain"`
	RateLimit float64       `yaml:"ratelimit"` // messages per second
	Timeout   time.Duration `yaml:"timeout"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads defaults, the config file and the environment into Settings
// and validates the result.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(viper.GetViper()); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings, err := unmarshal(viper.GetViper())
	if err != nil {
		return nil, err
	}

	settingsInstance = settings
	return settings, nil
}

// LoadFile reads a single config file on top of the defaults and the
// environment. It does not touch the global viper instance.
func LoadFile(path string) (*Settings, error) {
	v := viper.New()
	setDefaultConfig(v)
	bindEnv(v)
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "read-config").
			Context("path", path).
			Build()
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Settings, error) {
	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// initViper registers defaults, config paths and environment bindings, then
// reads the config file if one exists.
func initViper(v *viper.Viper) error {
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return err
	}
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}

	setDefaultConfig(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			GetLogger().Debug("no config file found, using defaults",
				logger.String("paths", strings.Join(configPaths, ", ")))
			return nil
		}
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "read-config").
			Build()
	}

	GetLogger().Info("loaded config file", logger.String("path", v.ConfigFileUsed()))
	return nil
}

// GetSettings returns the settings from the last successful Load.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// WriteDefaultConfig writes the embedded default config to path. An existing
// file is never overwritten.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Newf("config file already exists").
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(path, defaultConfigYAML, 0o600); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	return nil
}

// Redacted renders settings as YAML with credentials masked.
func (s *Settings) Redacted() ([]byte, error) {
	cp := *s
	if cp.MQTT.Password != "" {
		cp.MQTT.Password = "********"
	}
	if cp.Sentry.DSN != "" {
		cp.Sentry.DSN = "********"
	}
	return yaml.Marshal(&cp)
}
