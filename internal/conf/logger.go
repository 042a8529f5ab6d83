package conf

import "github.com/battycoda/battycoda/internal/logger"

// GetLogger returns the config package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
