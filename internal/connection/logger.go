package connection

import "github.com/tphakala/dualverify/internal/logger"

// GetLogger returns the connection package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("connection")
}
