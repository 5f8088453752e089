package conf

import "github.com/tphakala/dualverify/internal/logger"

// GetLogger returns the config package logger. It is resolved on every call
// because the central logger is installed after settings are loaded.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
