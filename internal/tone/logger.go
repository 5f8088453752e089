package tone

import "github.com/tphakala/dualverify/internal/logger"

// GetLogger returns the tone package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("tone")
}
