package conf

import "time"

// DefaultServiceUUID is the discovery filter shared by all participating
// devices. A peer that does not advertise it is ignored.
const DefaultServiceUUID = "5b2c8d1e-7a4f-4c3e-9d6b-2f1a0e8c7d54"

// Engine defaults.
const (
	DefaultSampleRate         = 44100
	DefaultTargetFrequency    = 18000.0
	DefaultTolerance          = 500.0
	DefaultFFTSize            = 4096
	DefaultDetectionThreshold = 0.1
	DefaultAudioStaleness     = 5 * time.Second
	DefaultDetectorQueueSize  = 32

	DefaultChirpDuration    = 100 * time.Millisecond
	DefaultChirpInterval    = 2000 * time.Millisecond
	DefaultChirpAmplitude   = 0.5
	DefaultChirpFadeSamples = 100

	DefaultRSSIThreshold    = -100
	DefaultRadioStaleness   = 10 * time.Second
	DefaultSweepInterval    = 5 * time.Second
	DefaultScanTimeout      = 15 * time.Second
	DefaultRSSIAt1m         = -50.0
	DefaultPathLossExponent = 2.5

	DefaultValidityWindow       = 30 * time.Second
	DefaultAutoConnectThreshold = 0.7
	DefaultCleanupInterval      = 30 * time.Second

	DefaultHeartbeatInterval = 10 * time.Second
	DefaultHandshakeDelay    = 500 * time.Millisecond

	DefaultHousekeepingInterval = time.Second
)

// EnvPrefix is the prefix of environment overrides, e.g. DUALVERIFY_AUDIO_FFTSIZE.
const EnvPrefix = "DUALVERIFY"
