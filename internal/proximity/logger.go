package proximity

import "github.com/tphakala/dualverify/internal/logger"

// GetLogger returns the proximity package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("proximity")
}
