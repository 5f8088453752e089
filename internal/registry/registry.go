// Package registry holds the merged per-device view built from radio
// sightings, audio detections and connection events.
package registry

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/tphakala/dualverify/internal/connection"
	"github.com/tphakala/dualverify/internal/radio"
	"github.com/tphakala/dualverify/internal/timeutil"
	"github.com/tphakala/dualverify/internal/tone"
)

// unknownDistance sorts devices without a sighting last.
const unknownDistance = 10.0

const (
	DefaultAudioStaleness = 5 * time.Second
	DefaultRadioStaleness = 10 * time.Second
)

// Device is the merged observation of one peer. Two Devices are the same
// peer when their IDs match.
type Device struct {
	ID               string
	DisplayName      string
	RadioVisible     bool
	LastRadioSeen    time.Time
	SignalStrength   int     // dBm
	DistanceEstimate float64 // meters
	AudioVerified    bool
	LastAudioSeen    *time.Time
	ConnectionState  connection.State
}

// Config holds the expiry windows.
type Config struct {
	AudioStaleness time.Duration
	RadioStaleness time.Duration
}

// Registry owns every Device record.
type Registry struct {
	cfg   Config
	clock timeutil.Clock

	mu            sync.Mutex
	devices       map[string]*Device
	audioDetected bool
	lastDetection time.Time
}

// New returns an empty registry. Zero windows select the defaults.
func New(cfg Config, clock timeutil.Clock) *Registry {
	if cfg.AudioStaleness <= 0 {
		cfg.AudioStaleness = DefaultAudioStaleness
	}
	if cfg.RadioStaleness <= 0 {
		cfg.RadioStaleness = DefaultRadioStaleness
	}
	return &Registry{
		cfg:     cfg,
		clock:   timeutil.OrReal(clock),
		devices: make(map[string]*Device),
	}
}

// ApplyRadio merges a published radio device list. Listed devices are
// inserted or refreshed; known devices missing from the list stay in the
// registry but are no longer radio visible.
func (r *Registry) ApplyRadio(list []radio.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(list))
	for _, rd := range list {
		seen[rd.ID] = struct{}{}
		d := r.getOrCreateLocked(rd.ID)
		d.DisplayName = rd.Name
		d.RadioVisible = true
		d.LastRadioSeen = rd.LastSeen
		d.SignalStrength = rd.RSSI
		d.DistanceEstimate = rd.Distance
	}

	for id, d := range r.devices {
		if _, ok := seen[id]; !ok {
			d.RadioVisible = false
		}
	}
}

// ApplyAudio applies one detection event. A positive detection is shared by
// every radio-visible device; the tone carries no sender identity.
func (r *Registry) ApplyAudio(ev tone.DetectionEvent) {
	if !ev.Detected {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.audioDetected = true
	r.lastDetection = ev.Timestamp
	for _, d := range r.devices {
		if d.RadioVisible {
			at := ev.Timestamp
			d.AudioVerified = true
			d.LastAudioSeen = &at
		}
	}
}

// ApplyConnection records a connection state change, creating the device if
// it has not been seen yet.
func (r *Registry) ApplyConnection(ev connection.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.getOrCreateLocked(ev.DeviceID)
	d.ConnectionState = ev.State
	if d.DisplayName == "" && ev.DeviceName != "" {
		d.DisplayName = ev.DeviceName
	}
}

// Expire clears stale audio flags and evicts devices not sighted within the
// radio staleness window. Connected or connecting devices are kept so their
// state is not lost. It returns the number of evicted devices.
func (r *Registry) Expire() int {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.audioDetected && now.Sub(r.lastDetection) > r.cfg.AudioStaleness {
		r.audioDetected = false
	}

	var evicted int
	for id, d := range r.devices {
		if d.AudioVerified && d.LastAudioSeen != nil && now.Sub(*d.LastAudioSeen) > r.cfg.AudioStaleness {
			d.AudioVerified = false
		}
		if d.ConnectionState == connection.Connected || d.ConnectionState == connection.Connecting {
			continue
		}
		if now.Sub(d.LastRadioSeen) > r.cfg.RadioStaleness {
			delete(r.devices, id)
			evicted++
		}
	}
	return evicted
}

// AudioDetected reports whether a tone was heard within the audio window.
func (r *Registry) AudioDetected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.audioDetected && r.clock.Since(r.lastDetection) <= r.cfg.AudioStaleness
}

// Get returns a copy of the device with id.
func (r *Registry) Get(id string) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return Device{}, false
	}
	return d.clone(), true
}

// Devices returns copies of all devices ordered by distance, then ID.
func (r *Registry) Devices() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		list = append(list, d.clone())
	}
	slices.SortFunc(list, func(a, b Device) int {
		return cmp.Or(cmp.Compare(a.DistanceEstimate, b.DistanceEstimate), cmp.Compare(a.ID, b.ID))
	})
	return list
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

func (r *Registry) getOrCreateLocked(id string) *Device {
	d, ok := r.devices[id]
	if !ok {
		d = &Device{
			ID:               id,
			DistanceEstimate: unknownDistance,
			ConnectionState:  connection.Disconnected,
		}
		r.devices[id] = d
	}
	return d
}

func (d *Device) clone() Device {
	c := *d
	if d.LastAudioSeen != nil {
		t := *d.LastAudioSeen
		c.LastAudioSeen = &t
	}
	return c
}
