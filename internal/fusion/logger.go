package fusion

import "github.com/tphakala/dualverify/internal/logger"

// GetLogger returns the fusion package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("fusion")
}
