// Package fusion scores radio and audio evidence per device and decides
// verification and auto-connect.
package fusion

import (
	"cmp"
	"slices"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/dualverify/internal/connection"
	"github.com/tphakala/dualverify/internal/logger"
	"github.com/tphakala/dualverify/internal/registry"
	"github.com/tphakala/dualverify/internal/timeutil"
)

const (
	DefaultValidityWindow       = 30 * time.Second
	DefaultAutoConnectThreshold = 0.7

	highConfidence   = 0.9
	mediumConfidence = 0.7

	signalWeight = 0.4
	audioWeight  = 0.4
	freshBonus   = 0.2
	recentBonus  = 0.1
	freshAge     = 5 * time.Second
	recentAge    = 15 * time.Second

	// RSSI mapped linearly onto [0,1] between these bounds
	rssiFloor = -100.0
	rssiSpan  = 60.0
)

// Status strings returned by StatusDescription.
const (
	StatusHigh        = "Dual-Verified (High Confidence)"
	StatusMedium      = "Dual-Verified (Medium Confidence)"
	StatusLow         = "Dual-Verified (Low Confidence)"
	StatusVerifying   = "Verifying…"
	StatusRadioOnly   = "BLE Only"
	StatusAudioOnly   = "Audio Only"
	StatusNotDetected = "Not Detected"
)

// Config holds the fusion thresholds.
type Config struct {
	ValidityWindow       time.Duration
	AutoConnectThreshold float64
}

// VerificationRecord marks the last time a device was dual verified.
type VerificationRecord struct {
	DeviceID   string    `json:"device_id"`
	VerifiedAt time.Time `json:"verified_at"`
}

// Assessment is the full fusion verdict for one device.
type Assessment struct {
	DeviceID     string  `json:"device_id"`
	DualVerified bool    `json:"dual_verified"`
	Confidence   float64 `json:"confidence"`
	AutoConnect  bool    `json:"auto_connect"`
	Status       string  `json:"status"`
}

// Engine is stateless apart from the verification records.
type Engine struct {
	cfg     Config
	clock   timeutil.Clock
	log     logger.Logger
	records *cache.Cache
}

// NewEngine returns an engine with an empty record store. Zero config
// values select the defaults.
func NewEngine(cfg Config, clock timeutil.Clock, log logger.Logger) *Engine {
	if cfg.ValidityWindow <= 0 {
		cfg.ValidityWindow = DefaultValidityWindow
	}
	if cfg.AutoConnectThreshold <= 0 {
		cfg.AutoConnectThreshold = DefaultAutoConnectThreshold
	}
	if log == nil {
		log = GetLogger()
	}

	return &Engine{
		cfg:   cfg,
		clock: timeutil.OrReal(clock),
		log:   log.Module("engine"),
		// no janitor goroutine, CleanupStale purges on the engine's schedule
		records: cache.New(cfg.ValidityWindow, 0),
	}
}

// IsDualVerified requires a visible device, a current audio detection and a
// radio reading no older than the validity window.
func (e *Engine) IsDualVerified(d registry.Device, audioDetected bool) bool {
	return d.RadioVisible && audioDetected && e.clock.Since(d.LastRadioSeen) <= e.cfg.ValidityWindow
}

// ConfidenceScore blends signal strength, audio and radio recency into
// [0,1]. The recency bonus only counts for visible devices.
func (e *Engine) ConfidenceScore(d registry.Device, audioDetected bool) float64 {
	var score float64

	if d.RadioVisible {
		score += signalWeight * clamp01((float64(d.SignalStrength)-rssiFloor)/rssiSpan)

		switch age := e.clock.Since(d.LastRadioSeen); {
		case age < freshAge:
			score += freshBonus
		case age < recentAge:
			score += recentBonus
		}
	}
	if audioDetected {
		score += audioWeight
	}

	return clamp01(score)
}

// ShouldAutoConnect is true for a dual-verified device above the threshold
// that is not already connected or connecting.
func (e *Engine) ShouldAutoConnect(d registry.Device, audioDetected bool) bool {
	if d.ConnectionState == connection.Connected || d.ConnectionState == connection.Connecting {
		return false
	}
	return e.IsDualVerified(d, audioDetected) &&
		e.ConfidenceScore(d, audioDetected) >= e.cfg.AutoConnectThreshold
}

// StatusDescription classifies the device for display.
func (e *Engine) StatusDescription(d registry.Device, audioDetected bool) string {
	if e.IsDualVerified(d, audioDetected) {
		switch score := e.ConfidenceScore(d, audioDetected); {
		case score >= highConfidence:
			return StatusHigh
		case score >= mediumConfidence:
			return StatusMedium
		default:
			return StatusLow
		}
	}

	switch {
	case d.RadioVisible && audioDetected:
		// both signals present but the radio reading is outside the window
		return StatusVerifying
	case d.RadioVisible:
		return StatusRadioOnly
	case audioDetected:
		return StatusAudioOnly
	default:
		return StatusNotDetected
	}
}

// Assess evaluates every rule for d at once.
func (e *Engine) Assess(d registry.Device, audioDetected bool) Assessment {
	return Assessment{
		DeviceID:     d.ID,
		DualVerified: e.IsDualVerified(d, audioDetected),
		Confidence:   e.ConfidenceScore(d, audioDetected),
		AutoConnect:  e.ShouldAutoConnect(d, audioDetected),
		Status:       e.StatusDescription(d, audioDetected),
	}
}

// RecordVerification stamps id as verified now.
func (e *Engine) RecordVerification(id string) VerificationRecord {
	rec := VerificationRecord{DeviceID: id, VerifiedAt: e.clock.Now()}
	e.records.SetDefault(id, rec)
	return rec
}

// Verification returns the record for id while it is inside the validity
// window.
func (e *Engine) Verification(id string) (VerificationRecord, bool) {
	v, ok := e.records.Get(id)
	if !ok {
		return VerificationRecord{}, false
	}
	rec := v.(VerificationRecord)
	if e.clock.Since(rec.VerifiedAt) > e.cfg.ValidityWindow {
		return VerificationRecord{}, false
	}
	return rec, true
}

// Verifications returns all live records sorted by device ID.
func (e *Engine) Verifications() []VerificationRecord {
	var list []VerificationRecord
	for id := range e.records.Items() {
		if rec, ok := e.Verification(id); ok {
			list = append(list, rec)
		}
	}
	slices.SortFunc(list, func(a, b VerificationRecord) int {
		return cmp.Compare(a.DeviceID, b.DeviceID)
	})
	return list
}

// CleanupStale removes records older than the validity window and returns
// how many were removed.
func (e *Engine) CleanupStale() int {
	before := e.records.ItemCount()
	e.records.DeleteExpired()

	for id, item := range e.records.Items() {
		rec := item.Object.(VerificationRecord)
		if e.clock.Since(rec.VerifiedAt) > e.cfg.ValidityWindow {
			e.records.Delete(id)
		}
	}

	removed := before - e.records.ItemCount()
	if removed > 0 {
		e.log.Debug("verification records purged", logger.Int("removed", removed))
	}
	return removed
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
