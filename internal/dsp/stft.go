package dsp

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// STFT computes power spectra of Hann-windowed frames. Row i holds the
// fftSize/2+1 power bins of the frame starting at i*hop. Signals shorter
// than one frame are zero padded into a single frame.
func STFT(samples []float64, fftSize, hop int) [][]float64 {
	if fftSize <= 0 || hop <= 0 {
		return nil
	}
	fft := fourier.NewFFT(fftSize)
	win := window.Hann(ones(fftSize))

	frames := 1
	if len(samples) > fftSize {
		frames += (len(samples) - fftSize + hop - 1) / hop
	}

	buf := make([]float64, fftSize)
	coeff := make([]complex128, fftSize/2+1)
	out := make([][]float64, frames)
	for f := range frames {
		start := f * hop
		clear(buf)
		if start < len(samples) {
			copy(buf, samples[start:min(start+fftSize, len(samples))])
		}
		for i := range buf {
			buf[i] *= win[i]
		}
		fft.Coefficients(coeff, buf)

		row := make([]float64, len(coeff))
		for i, c := range coeff {
			a := cmplx.Abs(c)
			row[i] = a * a / float64(fftSize)
		}
		out[f] = row
	}
	return out
}

// BinFrequency returns the center frequency of bin k.
func BinFrequency(k, fftSize, sampleRate int) float64 {
	return float64(k) * float64(sampleRate) / float64(fftSize)
}

// PowerToDB converts power to decibels with a floor of -120 dB.
func PowerToDB(p float64) float64 {
	const floor = 1e-12
	return 10 * math.Log10(math.Max(p, floor))
}

func ones(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = 1
	}
	return s
}
