// Package connection owns the per-device connection state machine and the
// heartbeat that runs while at least one peer is connected.
package connection

import (
	"context"
	"time"

	"github.com/tphakala/dualverify/internal/errors"
)

// State is the connection state of a single device.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
)

// AutoConnectMessage tags events produced by AutoConnect.
const AutoConnectMessage = "auto-connect"

var (
	ErrAlreadyConnected  = errors.NewStd("device already connected")
	ErrAlreadyConnecting = errors.NewStd("connection already in progress")
	ErrAborted           = errors.NewStd("connection aborted by disconnect")
	ErrClosed            = errors.NewStd("connection manager closed")
)

// Event is one transition of a device's connection state.
type Event struct {
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name"`
	State      State     `json:"state"`
	Timestamp  time.Time `json:"timestamp"`
	Message    string    `json:"message,omitempty"`
	IsError    bool      `json:"is_error"`
}

// Transport performs the wire-level part of a connection.
type Transport interface {
	Handshake(ctx context.Context, deviceID string) error
	Heartbeat(ctx context.Context, deviceID string) error
}
