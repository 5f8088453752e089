package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/dualverify/internal/logger"
)

// setDefaultConfig registers a default for every key so that environment
// overrides and Unmarshal see the full key set.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("main.name", "dualverify")

	v.SetDefault("audio.source", "")
	v.SetDefault("audio.samplerate", DefaultSampleRate)
	v.SetDefault("audio.targetfrequency", DefaultTargetFrequency)
	v.SetDefault("audio.tolerance", DefaultTolerance)
	v.SetDefault("audio.fftsize", DefaultFFTSize)
	v.SetDefault("audio.detectionthreshold", DefaultDetectionThreshold)
	v.SetDefault("audio.stalenesswindow", DefaultAudioStaleness)
	v.SetDefault("audio.queuesize", DefaultDetectorQueueSize)

	v.SetDefault("chirp.output", "")
	v.SetDefault("chirp.duration", DefaultChirpDuration)
	v.SetDefault("chirp.interval", DefaultChirpInterval)
	v.SetDefault("chirp.amplitude", DefaultChirpAmplitude)
	v.SetDefault("chirp.fadesamples", DefaultChirpFadeSamples)

	v.SetDefault("radio.serviceuuid", DefaultServiceUUID)
	v.SetDefault("radio.rssithreshold", DefaultRSSIThreshold)
	v.SetDefault("radio.stalenesswindow", DefaultRadioStaleness)
	v.SetDefault("radio.sweepinterval", DefaultSweepInterval)
	v.SetDefault("radio.scantimeout", DefaultScanTimeout)
	v.SetDefault("radio.rssiat1m", DefaultRSSIAt1m)
	v.SetDefault("radio.pathlossexponent", DefaultPathLossExponent)
	v.SetDefault("radio.advertise", true)

	v.SetDefault("fusion.validitywindow", DefaultValidityWindow)
	v.SetDefault("fusion.autoconnectthreshold", DefaultAutoConnectThreshold)
	v.SetDefault("fusion.cleanupinterval", DefaultCleanupInterval)
	v.SetDefault("fusion.autoconnect", true)

	v.SetDefault("connection.heartbeatinterval", DefaultHeartbeatInterval)
	v.SetDefault("connection.handshakedelay", DefaultHandshakeDelay)

	v.SetDefault("engine.housekeepinginterval", DefaultHousekeepingInterval)

	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.default_level", logger.DefaultLogLevel)
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	v.SetDefault("logging.file_output.level", logger.DefaultLogLevel)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.listen", "0.0.0.0:8090")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "dualverify")
	v.SetDefault("mqtt.clientid", "dualverify")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.retain", false)
	v.SetDefault("mqtt.ratelimit", 5.0)
	v.SetDefault("mqtt.timeout", 5*time.Second)
}
