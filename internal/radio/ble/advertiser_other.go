//go:build !linux

package ble

import (
	"github.com/tphakala/dualverify/internal/logger"
	"github.com/tphakala/dualverify/internal/radio"
)

// NewAdvertiser returns a no-op advertiser; peripheral mode is only wired
// up for BlueZ.
func NewAdvertiser(log logger.Logger) radio.Advertiser {
	if log == nil {
		log = radio.GetLogger()
	}
	log.Module("ble").Debug("peripheral mode unavailable, advertising is a no-op")
	return radio.NoopAdvertiser{}
}
