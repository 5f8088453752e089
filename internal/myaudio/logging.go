package myaudio

import "github.com/tphakala/dualverify/internal/logger"

// GetLogger returns the audio hardware logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("audio")
}
