package observability

import "github.com/tphakala/dualverify/internal/logger"

// Package-level cached logger instance.
var log = logger.Global().Module("telemetry")
