package radio

import (
	"context"

	"github.com/google/uuid"
)

// Scanner is the platform radio.
type Scanner interface {
	// Available returns nil when the radio is powered and usable.
	Available(ctx context.Context) error
	// Scan delivers sightings to fn until ctx is done or the scan fails.
	// It returns nil or ctx.Err() when the context ends the scan.
	Scan(ctx context.Context, fn func(Sighting)) error
}

// Advertiser makes this device discoverable under the shared service UUID.
type Advertiser interface {
	Start(ctx context.Context, name string, service uuid.UUID) error
	Stop() error
}

// NoopAdvertiser accepts every call and transmits nothing. It is used on
// platforms without peripheral mode; the Aggregator still tracks the
// advertising flag.
type NoopAdvertiser struct{}

func (NoopAdvertiser) Start(context.Context, string, uuid.UUID) error { return nil }
func (NoopAdvertiser) Stop() error                                    { return nil }
