package jobs

import "github.com/battycoda/battycoda/internal/logger"

// GetLogger returns the jobs module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("jobs")
}
