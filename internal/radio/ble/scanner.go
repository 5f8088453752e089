//go:build linux || darwin || windows

package ble

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"

	"github.com/tphakala/dualverify/internal/errors"
	"github.com/tphakala/dualverify/internal/logger"
	"github.com/tphakala/dualverify/internal/radio"
)

// stopRetryInterval is how often StopScan is retried when the adapter was
// not yet scanning at cancellation time.
const stopRetryInterval = 50 * time.Millisecond

// Scanner scans with the default adapter. Only one scan can run at a time.
type Scanner struct {
	adapter *bluetooth.Adapter
	service bluetooth.UUID
	raw     string
	log     logger.Logger

	enableOnce sync.Once
	enableErr  error
}

// NewScanner returns a scanner that tags sightings advertising service.
func NewScanner(service uuid.UUID, log logger.Logger) (*Scanner, error) {
	bt, err := bluetooth.ParseUUID(service.String())
	if err != nil {
		return nil, errors.New(err).
			Component("ble").
			Category(errors.CategoryConfiguration).
			Context("service_uuid", service.String()).
			Build()
	}
	if log == nil {
		log = radio.GetLogger()
	}

	return &Scanner{
		adapter: bluetooth.DefaultAdapter,
		service: bt,
		raw:     service.String(),
		log:     log.Module("ble"),
	}, nil
}

func (s *Scanner) enable() error {
	s.enableOnce.Do(func() {
		if err := s.adapter.Enable(); err != nil {
			s.enableErr = errors.New(err).
				Component("ble").
				Category(errors.CategoryHardware).
				Context("operation", "enable_adapter").
				Build()
			return
		}
		s.log.Info("bluetooth adapter enabled")
	})
	return s.enableErr
}

// Available enables the adapter on first use and reports whether it worked.
func (s *Scanner) Available(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.enable()
}

// Scan runs until ctx is done or the adapter reports an error.
func (s *Scanner) Scan(ctx context.Context, fn func(radio.Sighting)) error {
	if err := s.enable(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go s.stopOnCancel(ctx, done)

	err := s.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		fn(s.toSighting(result))
	})

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		return errors.New(err).
			Component("ble").
			Category(errors.CategoryRadio).
			Context("operation", "scan").
			Build()
	}
	return nil
}

// stopOnCancel stops the blocking adapter scan once ctx ends. StopScan fails
// when called before the scan has actually begun, so it is retried.
func (s *Scanner) stopOnCancel(ctx context.Context, done <-chan struct{}) {
	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	for {
		if err := s.adapter.StopScan(); err == nil {
			return
		}
		select {
		case <-done:
			return
		case <-time.After(stopRetryInterval):
		}
	}
}

func (s *Scanner) toSighting(result bluetooth.ScanResult) radio.Sighting {
	sighting := radio.Sighting{
		ID:             result.Address.String(),
		AdvertisedName: result.LocalName(),
		RSSI:           int(result.RSSI),
	}
	// the payload API only answers membership queries
	if result.HasServiceUUID(s.service) {
		sighting.ServiceUUIDs = []string{s.raw}
	}
	return sighting
}
