// Package securefs confines file access to the media root.
package securefs

import (
	"github.com/battycoda/battycoda/internal/errors"
)

// Sentinel errors for the securefs package.
var (
	// ErrPathTraversal indicates a path that would escape the media root.
	ErrPathTraversal = errors.NewStd("security error: path attempts to traverse outside base directory")

	// ErrInvalidPath indicates an absolute or empty path where a relative one is required.
	ErrInvalidPath = errors.NewStd("security error: invalid path specification")

	// ErrFileTooLarge is returned when a file exceeds the configured read limit.
	ErrFileTooLarge = errors.NewStd("file size exceeds maximum allowed size")
)
