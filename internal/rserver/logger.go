package rserver

import "github.com/battycoda/battycoda/internal/logger"

// GetLogger returns the rserver module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("rserver")
}
