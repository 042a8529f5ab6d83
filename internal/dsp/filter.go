// Package dsp holds the signal processing shared by segmentation, feature
// extraction for clustering and spectrogram rendering.
package dsp

import (
	"fmt"
	"math"
)

// butterworthQ gives a maximally flat second-order section.
const butterworthQ = 1 / math.Sqrt2

// Biquad is a second-order IIR section from the RBJ audio EQ cookbook,
// applied in cascaded passes (each pass adds 12 dB/octave).
type Biquad struct {
	b0, b1, b2, a1, a2 float64 // normalized by a0
	passes             int
}

func newBiquad(a0, a1, a2, b0, b1, b2 float64, passes int) *Biquad {
	return &Biquad{
		b0: b0 / a0, b1: b1 / a0, b2: b2 / a0,
		a1: a1 / a0, a2: a2 / a0,
		passes: passes,
	}
}

func coefficients(sampleRate, frequency, q float64) (w0, alpha float64, err error) {
	if sampleRate <= 0 {
		return 0, 0, fmt.Errorf("sample rate must be positive, got %g", sampleRate)
	}
	if frequency <= 0 || frequency >= sampleRate/2 {
		return 0, 0, fmt.Errorf("cutoff %g Hz outside (0, %g)", frequency, sampleRate/2)
	}
	if q <= 0 {
		return 0, 0, fmt.Errorf("q must be positive, got %g", q)
	}
	w0 = 2 * math.Pi * frequency / sampleRate
	return w0, math.Sin(w0) / (2 * q), nil
}

// NewLowPass returns a low-pass section.
func NewLowPass(sampleRate, frequency, q float64, passes int) (*Biquad, error) {
	w0, alpha, err := coefficients(sampleRate, frequency, q)
	if err != nil {
		return nil, err
	}
	cos := math.Cos(w0)
	return newBiquad(1+alpha, -2*cos, 1-alpha, (1-cos)/2, 1-cos, (1-cos)/2, max(passes, 1)), nil
}

// NewHighPass returns a high-pass section.
func NewHighPass(sampleRate, frequency, q float64, passes int) (*Biquad, error) {
	w0, alpha, err := coefficients(sampleRate, frequency, q)
	if err != nil {
		return nil, err
	}
	cos := math.Cos(w0)
	return newBiquad(1+alpha, -2*cos, 1-alpha, (1+cos)/2, -(1 + cos), (1+cos)/2, max(passes, 1)), nil
}

// Apply filters samples in place. State starts at rest on every call.
func (f *Biquad) Apply(samples []float64) {
	for range f.passes {
		var x1, x2, y1, y2 float64
		for i, x := range samples {
			y := f.b0*x + f.b1*x1 + f.b2*x2 - f.a1*y1 - f.a2*y2
			x2, x1 = x1, x
			y2, y1 = y1, y
			samples[i] = y
		}
	}
}

// BandPass returns a filtered copy of samples keeping [low, high] Hz.
// A zero low skips the high-pass stage and a zero high (or one at or above
// Nyquist) skips the low-pass stage.
func BandPass(samples []float64, sampleRate int, low, high float64) ([]float64, error) {
	out := make([]float64, len(samples))
	copy(out, samples)

	nyquist := float64(sampleRate) / 2
	if low > 0 && high > 0 && low >= high {
		return nil, fmt.Errorf("band-pass low %g Hz must be below high %g Hz", low, high)
	}
	if low > 0 {
		hp, err := NewHighPass(float64(sampleRate), low, butterworthQ, 2)
		if err != nil {
			return nil, err
		}
		hp.Apply(out)
	}
	if high > 0 && high < nyquist {
		lp, err := NewLowPass(float64(sampleRate), high, butterworthQ, 2)
		if err != nil {
			return nil, err
		}
		lp.Apply(out)
	}
	return out, nil
}
