package connection

import (
	"context"
	"time"

	"github.com/tphakala/dualverify/internal/timeutil"
)

// DefaultHandshakeDelay is the simulated handshake duration.
const DefaultHandshakeDelay = 500 * time.Millisecond

// SimulatedTransport stands in for a real link layer. The handshake is a
// fixed delay on the clock and heartbeats always succeed.
type SimulatedTransport struct {
	Delay time.Duration
	Clock timeutil.Clock
}

// NewSimulatedTransport returns a transport with the given handshake delay.
// A non-positive delay selects DefaultHandshakeDelay.
func NewSimulatedTransport(delay time.Duration, clock timeutil.Clock) *SimulatedTransport {
	if delay <= 0 {
		delay = DefaultHandshakeDelay
	}
	return &SimulatedTransport{Delay: delay, Clock: timeutil.OrReal(clock)}
}

func (t *SimulatedTransport) Handshake(ctx context.Context, _ string) error {
	timer := timeutil.OrReal(t.Clock).NewTimer(t.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}

func (t *SimulatedTransport) Heartbeat(ctx context.Context, _ string) error {
	return ctx.Err()
}
