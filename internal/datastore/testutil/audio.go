package testutil

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/battycoda/battycoda/internal/audio"
	"github.com/battycoda/battycoda/internal/datastore"
)

// Burst is a tone burst written by WriteBurstWAV.
type Burst struct {
	datastore.Interval
	Freq      float64 // Hz
	Amplitude float64 // 0 means 0.8
}

// WriteBurstWAV writes duration seconds of low-level noise with tone bursts
// to relPath. The noise is seeded, so files are reproducible.
func WriteBurstWAV(t testing.TB, media audio.Creator, relPath string, sampleRate int, duration float64, bursts []Burst) []float64 {
	t.Helper()
	n := int(math.Round(duration * float64(sampleRate)))
	rng := rand.New(rand.NewPCG(1, 2))
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = (rng.Float64()*2 - 1) * 0.01
	}
	for _, b := range bursts {
		amp := b.Amplitude
		if amp == 0 {
			amp = 0.8
		}
		start := int(b.Onset * float64(sampleRate))
		end := min(int(b.Offset*float64(sampleRate)), n)
		for i := start; i < end; i++ {
			samples[i] += amp * math.Sin(2*math.Pi*b.Freq*float64(i)/float64(sampleRate))
		}
	}
	require.NoError(t, audio.SaveWAV(media, relPath, samples, sampleRate))
	return samples
}
