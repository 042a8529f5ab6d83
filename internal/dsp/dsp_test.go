package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(freq float64, sampleRate, n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.Sin(2 * math.Pi * freq * float64(i) / float64(sampleRate))
	}
	return s
}

func rms(s []float64) float64 {
	var sum float64
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(s)))
}

func TestBandPass(t *testing.T) {
	const rate = 48000
	inBand := sine(10000, rate, rate)
	below := sine(200, rate, rate)

	pass, err := BandPass(inBand, rate, 5000, 15000)
	require.NoError(t, err)
	stop, err := BandPass(below, rate, 5000, 15000)
	require.NoError(t, err)

	// Skip the filter's settling time.
	assert.Greater(t, rms(pass[rate/10:]), 0.3)
	assert.Less(t, rms(stop[rate/10:]), 0.01)
	assert.Equal(t, sine(10000, rate, rate), inBand, "input must not be modified")

	_, err = BandPass(inBand, rate, 15000, 5000)
	require.Error(t, err)

	same, err := BandPass(inBand, rate, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, inBand, same)
}

func TestEnvelopeAndRuns(t *testing.T) {
	signal := []float64{0, 0, 1, -1, 1, 0, 0, 0, -1, 0}
	env := Envelope(signal, 1)
	assert.Equal(t, []float64{0, 0, 1, 1, 1, 0, 0, 0, 1, 0}, env)

	smooth := Envelope(signal, 3)
	assert.InDelta(t, 2.0/3, smooth[2], 1e-12)
	assert.InDelta(t, 1.0, smooth[3], 1e-12)

	assert.Equal(t, []Run{{2, 5}, {8, 9}}, RunsAbove(env, 0.5))
	assert.Equal(t, []Run{{0, 3}}, RunsAbove([]float64{1, 1, 1}, 0))
	assert.Empty(t, RunsAbove(nil, 0))
}

func TestFrameEnergy(t *testing.T) {
	e := FrameEnergy([]float64{1, 1, 2, 2, 3}, 2, 2)
	assert.Equal(t, []float64{1, 4, 9}, e)
	assert.Nil(t, FrameEnergy(nil, 2, 2))
}

func TestSTFTPeak(t *testing.T) {
	const rate, size = 8000, 256
	spec := STFT(sine(1000, rate, 2048), size, 128)
	require.NotEmpty(t, spec)
	require.Len(t, spec[0], size/2+1)

	peak := 0
	for k, v := range spec[3] {
		if v > spec[3][peak] {
			peak = k
		}
	}
	assert.InDelta(t, 1000, BinFrequency(peak, size, rate), float64(rate)/size)

	short := STFT([]float64{1, 2, 3}, size, 128)
	assert.Len(t, short, 1)
}

func TestMFCCSummary(t *testing.T) {
	cfg := DefaultMFCCConfig()
	low := MFCCSummary(sine(2000, 16000, 8000), 16000, cfg)
	high := MFCCSummary(sine(6000, 16000, 8000), 16000, cfg)
	require.Len(t, low, 2*cfg.Coefficients)
	assert.NotEqual(t, low, high)
	for _, v := range low {
		assert.False(t, math.IsNaN(v))
	}
	assert.InDelta(t, -120.0, PowerToDB(0), 1e-9)
}
