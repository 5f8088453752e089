//go:build !linux && !darwin && !windows

package ble

import (
	"context"

	"github.com/google/uuid"

	"github.com/tphakala/dualverify/internal/errors"
	"github.com/tphakala/dualverify/internal/logger"
	"github.com/tphakala/dualverify/internal/radio"
)

var errUnsupported = errors.Newf("bluetooth is not supported on this platform").
	Component("ble").
	Category(errors.CategoryHardware).
	Build()

// Scanner reports the radio as unavailable on this platform.
type Scanner struct{}

func NewScanner(uuid.UUID, logger.Logger) (*Scanner, error) { return &Scanner{}, nil }

func (*Scanner) Available(context.Context) error { return errUnsupported }

func (*Scanner) Scan(context.Context, func(radio.Sighting)) error { return errUnsupported }
