//go:build linux

package ble

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"

	"github.com/tphakala/dualverify/internal/errors"
	"github.com/tphakala/dualverify/internal/logger"
	"github.com/tphakala/dualverify/internal/radio"
)

type advertiser struct {
	adapter *bluetooth.Adapter
	log     logger.Logger

	mu  sync.Mutex
	adv *bluetooth.Advertisement
}

// NewAdvertiser returns a peripheral-mode advertiser backed by BlueZ.
func NewAdvertiser(log logger.Logger) radio.Advertiser {
	if log == nil {
		log = radio.GetLogger()
	}
	return &advertiser{adapter: bluetooth.DefaultAdapter, log: log.Module("ble")}
}

func (a *advertiser) Start(_ context.Context, name string, service uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.adv != nil {
		return nil
	}

	bt, err := bluetooth.ParseUUID(service.String())
	if err != nil {
		return errors.New(err).Component("ble").Category(errors.CategoryConfiguration).Build()
	}
	if err := a.adapter.Enable(); err != nil {
		return errors.HardwareError(err, "ble")
	}

	adv := a.adapter.DefaultAdvertisement()
	if err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    name,
		ServiceUUIDs: []bluetooth.UUID{bt},
	}); err != nil {
		return errors.New(err).Component("ble").Category(errors.CategoryRadio).
			Context("operation", "configure_advertisement").Build()
	}
	if err := adv.Start(); err != nil {
		return errors.New(err).Component("ble").Category(errors.CategoryRadio).
			Context("operation", "start_advertisement").Build()
	}

	a.adv = adv
	a.log.Debug("advertisement registered", logger.String("name", name))
	return nil
}

func (a *advertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.adv == nil {
		return nil
	}
	err := a.adv.Stop()
	a.adv = nil
	if err != nil {
		return errors.New(err).Component("ble").Category(errors.CategoryRadio).
			Context("operation", "stop_advertisement").Build()
	}
	return nil
}
