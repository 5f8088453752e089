package mqtt

import (
	"time"

	"github.com/tphakala/dualverify/internal/connection"
	"github.com/tphakala/dualverify/internal/fusion"
)

// ConnectionMessage is published on <topic>/connection.
//
// Field names are part of the published payload contract.
type ConnectionMessage struct {
	DeviceID   string    `json:"deviceId"`
	DeviceName string    `json:"deviceName,omitempty"`
	State      string    `json:"state"`
	Message    string    `json:"message,omitempty"`
	IsError    bool      `json:"isError"`
	Timestamp  time.Time `json:"timestamp"`
	Source     string    `json:"source"`
}

// VerificationMessage is published on <topic>/verification when a device
// becomes dual verified.
type VerificationMessage struct {
	DeviceID    string    `json:"deviceId"`
	Confidence  float64   `json:"confidence"`
	Status      string    `json:"status"`
	AutoConnect bool      `json:"autoConnect"`
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"`
}

func newConnectionMessage(ev connection.Event, source string) ConnectionMessage {
	return ConnectionMessage{
		DeviceID:   ev.DeviceID,
		DeviceName: ev.DeviceName,
		State:      string(ev.State),
		Message:    ev.Message,
		IsError:    ev.IsError,
		Timestamp:  ev.Timestamp.UTC(),
		Source:     source,
	}
}

func newVerificationMessage(a fusion.Assessment, at time.Time, source string) VerificationMessage {
	return VerificationMessage{
		DeviceID:    a.DeviceID,
		Confidence:  a.Confidence,
		Status:      a.Status,
		AutoConnect: a.AutoConnect,
		Timestamp:   at.UTC(),
		Source:      source,
	}
}
