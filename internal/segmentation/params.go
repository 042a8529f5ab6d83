package segmentation

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/errors"
)

// Params are the detector parameters. Later sources override earlier ones:
// configured defaults, then the algorithm's defaults, then the job's own.
type Params struct {
	MinDurationMs   float64 `json:"min_duration_ms"`
	SmoothWindow    int     `json:"smooth_window"`
	ThresholdFactor float64 `json:"threshold_factor"`
	LowFreq         float64 `json:"low_freq,omitempty"`
	HighFreq        float64 `json:"high_freq,omitempty"`
	FrameMs         float64 `json:"frame_ms,omitempty"` // energy detector frame length
}

const defaultFrameMs = 5

// DefaultParams returns the configured defaults.
func DefaultParams(d conf.SegmentationDefaults) Params {
	return Params{
		MinDurationMs:   d.MinDurationMs,
		SmoothWindow:    d.SmoothWindow,
		ThresholdFactor: d.ThresholdFactor,
		FrameMs:         defaultFrameMs,
	}
}

// mergeParams overlays each JSON document on base in order.
func mergeParams(base Params, layers ...datatypes.JSON) (Params, error) {
	p := base
	for _, layer := range layers {
		if len(layer) == 0 || string(layer) == "null" {
			continue
		}
		if err := json.Unmarshal(layer, &p); err != nil {
			return Params{}, invalidParams("malformed parameters: %v", err)
		}
	}
	return p, p.validate()
}

func (p Params) validate() error {
	switch {
	case p.MinDurationMs < 0:
		return invalidParams("min_duration_ms must not be negative")
	case p.SmoothWindow < 1:
		return invalidParams("smooth_window must be at least 1")
	case p.ThresholdFactor <= 0:
		return invalidParams("threshold_factor must be positive")
	case p.LowFreq < 0 || p.HighFreq < 0:
		return invalidParams("band-pass frequencies must not be negative")
	case p.LowFreq > 0 && p.HighFreq > 0 && p.LowFreq >= p.HighFreq:
		return invalidParams("low_freq must be below high_freq")
	case p.FrameMs < 0:
		return invalidParams("frame_ms must not be negative")
	}
	return nil
}

func invalidParams(format string, args ...any) error {
	return errors.New(fmt.Errorf("%w: %s", errors.ErrValidation, fmt.Sprintf(format, args...))).
		Component("segmentation").
		Category(errors.CategoryValidation).
		Build()
}
