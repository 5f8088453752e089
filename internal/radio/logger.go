package radio

import "github.com/tphakala/dualverify/internal/logger"

// GetLogger returns the radio package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("radio")
}
