// Package radio turns raw short-range radio scan results into a live,
// staleness-managed set of nearby peers with distance estimates.
package radio

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// UnknownDeviceName is used when a peer advertises no name at all.
const UnknownDeviceName = "Unknown Device"

// Sighting is one raw scan result.
type Sighting struct {
	ID             string
	AdvertisedName string
	PlatformName   string
	RSSI           int // dBm
	ServiceUUIDs   []string
}

// DisplayName falls back from the advertised name to the platform name to
// UnknownDeviceName.
func (s Sighting) DisplayName() string {
	switch {
	case s.AdvertisedName != "":
		return s.AdvertisedName
	case s.PlatformName != "":
		return s.PlatformName
	default:
		return UnknownDeviceName
	}
}

// HasService reports whether the sighting advertises service. UUID strings
// are compared after parsing so case and braces do not matter.
func (s Sighting) HasService(service uuid.UUID) bool {
	for _, raw := range s.ServiceUUIDs {
		if id, err := uuid.Parse(raw); err == nil && id == service {
			return true
		}
	}
	return false
}

// Device is an accepted peer as published by the Aggregator.
type Device struct {
	ID       string
	Name     string
	RSSI     int
	Distance float64 // meters
	LastSeen time.Time
}

const (
	minDistance = 0.1
	maxDistance = 10.0
)

// EstimateDistance applies the log-distance path loss model,
// 10^((rssiAt1m - rssi) / (10 n)), clamped to [0.1, 10] meters.
func EstimateDistance(rssi int, rssiAt1m, pathLossExponent float64) float64 {
	d := math.Pow(10, (rssiAt1m-float64(rssi))/(10*pathLossExponent))
	if math.IsNaN(d) {
		return maxDistance
	}
	return max(minDistance, min(maxDistance, d))
}
