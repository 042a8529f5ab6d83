package spectrogram

import (
	"fmt"
	"maps"
	"math"
	"path"
	"slices"

	"github.com/battycoda/battycoda/internal/errors"
)

// OutputDir holds rendered spectrograms below the media root.
const OutputDir = "spectrograms"

// Spectrogram size constants define pixel widths for different display contexts
const (
	sizeSmallPx      = 400
	sizeMediumPx     = 800
	sizeLargePx      = 1000
	sizeExtraLargePx = 1200
)

// validSizes maps size strings to pixel widths.
var validSizes = map[string]int{
	"sm": sizeSmallPx,
	"md": sizeMediumPx,
	"lg": sizeLargePx,
	"xl": sizeExtraLargePx,
}

// SizeToPixels converts a size string to pixel width.
//
// Valid sizes: sm (400px), md (800px), lg (1000px), xl (1200px)
func SizeToPixels(size string) (int, error) {
	width, ok := validSizes[size]
	if !ok {
		return 0, errors.Newf("invalid size (valid sizes: sm, md, lg, xl)").
			Component("spectrogram").
			Category(errors.CategoryValidation).
			Context("operation", "size_to_pixels").
			Context("size", size).
			Build()
	}
	return width, nil
}

// GetValidSizes returns a sorted list of valid size strings.
func GetValidSizes() []string {
	sizes := slices.Collect(maps.Keys(validSizes))
	slices.Sort(sizes)
	return sizes
}

// BuildOutputPath returns the cache path of the spectrogram of recording
// between onset and offset seconds:
//
//	spectrograms/<recording>_<onset_ms>_<offset_ms>.png
func BuildOutputPath(recordingID uint, onset, offset float64) (string, error) {
	if onset < 0 || offset <= onset || math.IsNaN(onset) || math.IsNaN(offset) {
		return "", errors.Newf("invalid spectrogram range [%.3f, %.3f)", onset, offset).
			Component("spectrogram").
			Category(errors.CategoryValidation).
			Context("operation", "build_output_path").
			Context("recording_id", recordingID).
			Build()
	}
	name := fmt.Sprintf("%d_%d_%d.png", recordingID,
		int64(math.Round(onset*1000)), int64(math.Round(offset*1000)))
	return path.Join(OutputDir, name), nil
}
