package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/dualverify/internal/connection"
	"github.com/tphakala/dualverify/internal/fusion"
	"github.com/tphakala/dualverify/internal/radio"
	"github.com/tphakala/dualverify/internal/tone"
)

// ProximityMetrics records engine observations. It satisfies
// proximity.Recorder.
type ProximityMetrics struct {
	FramesProcessed   prometheus.Counter
	Detections        prometheus.Counter
	LastPeakMagnitude prometheus.Gauge
	LastPeakFrequency prometheus.Gauge
	VisibleDevices    prometheus.Gauge
	VerifiedDevices   prometheus.Gauge
	Verifications     prometheus.Counter
	Confidence        prometheus.Histogram
	ConnectionEvents  *prometheus.CounterVec
	registry          *prometheus.Registry
}

// NewProximityMetrics creates and registers the engine collectors.
func NewProximityMetrics(registry *prometheus.Registry) (*ProximityMetrics, error) {
	m := &ProximityMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register proximity metrics: %w", err)
	}
	return m, nil
}

func (m *ProximityMetrics) initMetrics() {
	m.FramesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tone_frames_processed_total",
		Help: "Total number of analysis frames processed by the tone detector",
	})

	m.Detections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tone_detections_total",
		Help: "Total number of frames in which the target tone was detected",
	})

	m.LastPeakMagnitude = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tone_last_peak_magnitude",
		Help: "Peak magnitude in the search band of the last processed frame",
	})

	m.LastPeakFrequency = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tone_last_peak_frequency_hz",
		Help: "Peak frequency in the search band of the last processed frame",
	})

	m.VisibleDevices = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "radio_visible_devices",
		Help: "Number of devices currently visible to the radio",
	})

	m.VerifiedDevices = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fusion_dual_verified_devices",
		Help: "Number of devices currently dual verified",
	})

	m.Verifications = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fusion_verifications_total",
		Help: "Total number of times a device became dual verified",
	})

	m.Confidence = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fusion_verification_confidence",
		Help:    "Confidence score at the moment a device became dual verified",
		Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
	})

	m.ConnectionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connection_events_total",
			Help: "Total number of connection state transitions",
		},
		[]string{"state", "error"},
	)
}

// Describe implements the prometheus.Collector interface.
func (m *ProximityMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.FramesProcessed.Describe(ch)
	m.Detections.Describe(ch)
	m.LastPeakMagnitude.Describe(ch)
	m.LastPeakFrequency.Describe(ch)
	m.VisibleDevices.Describe(ch)
	m.VerifiedDevices.Describe(ch)
	m.Verifications.Describe(ch)
	m.Confidence.Describe(ch)
	m.ConnectionEvents.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *ProximityMetrics) Collect(ch chan<- prometheus.Metric) {
	m.FramesProcessed.Collect(ch)
	m.Detections.Collect(ch)
	m.LastPeakMagnitude.Collect(ch)
	m.LastPeakFrequency.Collect(ch)
	m.VisibleDevices.Collect(ch)
	m.VerifiedDevices.Collect(ch)
	m.Verifications.Collect(ch)
	m.Confidence.Collect(ch)
	m.ConnectionEvents.Collect(ch)
}

func (m *ProximityMetrics) RecordDetection(ev tone.DetectionEvent) {
	m.FramesProcessed.Inc()
	if ev.Detected {
		m.Detections.Inc()
	}
	m.LastPeakMagnitude.Set(ev.PeakMagnitude)
	m.LastPeakFrequency.Set(ev.PeakFrequency)
}

func (m *ProximityMetrics) RecordDevices(visible, verified int) {
	m.VisibleDevices.Set(float64(visible))
	m.VerifiedDevices.Set(float64(verified))
}

func (m *ProximityMetrics) RecordVerification(a fusion.Assessment) {
	m.Verifications.Inc()
	m.Confidence.Observe(a.Confidence)
}

func (m *ProximityMetrics) RecordConnectionEvent(ev connection.Event) {
	m.ConnectionEvents.WithLabelValues(string(ev.State), strconv.FormatBool(ev.IsError)).Inc()
}

// Sources exposes component counters that are read at scrape time.
type Sources struct {
	Radio       func() radio.Stats
	Connections func() connection.Stats
	Receiver    func() tone.WorkerStats
}

// RegisterSources registers scrape-time collectors for the non-nil sources.
func (m *ProximityMetrics) RegisterSources(src Sources) error {
	var collectors []prometheus.Collector

	if src.Radio != nil {
		collectors = append(collectors,
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "radio_sightings_accepted_total",
				Help: "Total number of radio sightings accepted by the filter",
			}, func() float64 { return float64(src.Radio().Accepted) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "radio_sightings_rejected_total",
				Help: "Total number of radio sightings rejected by the filter",
			}, func() float64 { return float64(src.Radio().Rejected) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "radio_devices_evicted_total",
				Help: "Total number of devices evicted for staleness",
			}, func() float64 { return float64(src.Radio().Evicted) }),
		)
	}

	if src.Connections != nil {
		collectors = append(collectors,
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "connection_heartbeats_total",
				Help: "Total number of successful heartbeats",
			}, func() float64 { return float64(src.Connections().Heartbeats) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "connection_heartbeat_failures_total",
				Help: "Total number of failed heartbeats",
			}, func() float64 { return float64(src.Connections().HeartbeatFailures) }),
		)
	}

	if src.Receiver != nil {
		collectors = append(collectors,
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "tone_worker_dropped_buffers",
				Help: "Capture buffers dropped by the current detector worker",
			}, func() float64 { return float64(src.Receiver().Dropped) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "tone_worker_lost_events",
				Help: "Detection events lost by the current detector worker",
			}, func() float64 { return float64(src.Receiver().Lost) }),
		)
	}

	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return fmt.Errorf("failed to register source collector: %w", err)
		}
	}
	log.Debug("scrape-time collectors registered")
	return nil
}
