// Package metrics provides the Prometheus collectors of the proximity engine.
package metrics

import "time"

// ShutdownTimeout bounds the graceful shutdown of the metrics endpoint.
const ShutdownTimeout = 5 * time.Second

// Label values shared by several collectors.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)
