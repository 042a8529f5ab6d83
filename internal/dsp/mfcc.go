package dsp

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// MFCCConfig configures MFCC extraction.
type MFCCConfig struct {
	FFTSize      int
	Hop          int
	MelBands     int
	Coefficients int
	MinFreq      float64
	MaxFreq      float64 // 0 means Nyquist
}

// DefaultMFCCConfig returns the configuration used for clustering features.
func DefaultMFCCConfig() MFCCConfig {
	return MFCCConfig{FFTSize: 512, Hop: 256, MelBands: 40, Coefficients: 13}
}

func hzToMel(f float64) float64 { return 2595 * math.Log10(1+f/700) }
func melToHz(m float64) float64 { return 700 * (math.Pow(10, m/2595) - 1) }

// melFilterbank returns triangular filters over fftSize/2+1 bins.
func melFilterbank(cfg MFCCConfig, sampleRate int) [][]float64 {
	bins := cfg.FFTSize/2 + 1
	maxFreq := cfg.MaxFreq
	if maxFreq <= 0 || maxFreq > float64(sampleRate)/2 {
		maxFreq = float64(sampleRate) / 2
	}
	lo, hi := hzToMel(cfg.MinFreq), hzToMel(maxFreq)

	points := make([]float64, cfg.MelBands+2)
	floats.Span(points, lo, hi)
	binOf := make([]float64, len(points))
	for i, m := range points {
		binOf[i] = melToHz(m) * float64(cfg.FFTSize) / float64(sampleRate)
	}

	bank := make([][]float64, cfg.MelBands)
	for b := range cfg.MelBands {
		left, center, right := binOf[b], binOf[b+1], binOf[b+2]
		row := make([]float64, bins)
		for k := range bins {
			x := float64(k)
			switch {
			case x > left && x <= center && center > left:
				row[k] = (x - left) / (center - left)
			case x > center && x < right && right > center:
				row[k] = (right - x) / (right - center)
			}
		}
		bank[b] = row
	}
	return bank
}

// MFCC returns one coefficient vector per STFT frame.
func MFCC(samples []float64, sampleRate int, cfg MFCCConfig) [][]float64 {
	spec := STFT(samples, cfg.FFTSize, cfg.Hop)
	bank := melFilterbank(cfg, sampleRate)
	dct := fourier.NewDCT(cfg.MelBands)

	logMel := make([]float64, cfg.MelBands)
	coeffs := make([]float64, cfg.MelBands)
	out := make([][]float64, len(spec))
	for f, frame := range spec {
		for b, filter := range bank {
			logMel[b] = math.Log(floats.Dot(filter, frame) + 1e-10)
		}
		dct.Transform(coeffs, logMel)
		out[f] = append([]float64(nil), coeffs[:cfg.Coefficients]...)
	}
	return out
}

// MFCCSummary reduces frame-wise MFCCs to a fixed-length vector of
// per-coefficient means followed by standard deviations.
func MFCCSummary(samples []float64, sampleRate int, cfg MFCCConfig) []float64 {
	frames := MFCC(samples, sampleRate, cfg)
	out := make([]float64, 2*cfg.Coefficients)
	if len(frames) == 0 {
		return out
	}
	column := make([]float64, len(frames))
	for c := range cfg.Coefficients {
		for f := range frames {
			column[f] = frames[f][c]
		}
		mean, std := stat.PopMeanStdDev(column, nil)
		out[c] = mean
		out[cfg.Coefficients+c] = std
	}
	return out
}
