package clustering

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
	"gorm.io/datatypes"

	"github.com/battycoda/battycoda/internal/audio"
	"github.com/battycoda/battycoda/internal/errors"
)

func tone(freq float64, rate int, seconds float64) audio.Clip {
	n := int(seconds * float64(rate))
	s := make([]float64, n)
	for i := range s {
		s[i] = 0.8 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return audio.Clip{Samples: s, SampleRate: rate}
}

func TestNewExtractor_MFCC(t *testing.T) {
	clip := tone(3000, 22050, 0.2)

	extract, err := newExtractor("", nil)
	require.NoError(t, err)
	assert.Len(t, extract(clip), 26)

	extract, err = newExtractor(FeaturesMFCC, datatypes.JSON(`{"n_mfcc":20,"n_mels":64}`))
	require.NoError(t, err)
	assert.Len(t, extract(clip), 40)
}

func TestNewExtractor_Invalid(t *testing.T) {
	_, err := newExtractor("wavelet", nil)
	require.ErrorIs(t, err, errors.ErrValidation)

	_, err = newExtractor(FeaturesMFCC, datatypes.JSON(`{"n_mfcc":50,"n_mels":40}`))
	require.ErrorIs(t, err, errors.ErrValidation)

	_, err = newExtractor(FeaturesMFCC, datatypes.JSON(`[1,2]`))
	require.ErrorIs(t, err, errors.ErrValidation)
}

func TestSpectralFeatures_Tone(t *testing.T) {
	const rate = 22050
	extract, err := newExtractor(FeaturesSpectral, nil)
	require.NoError(t, err)

	f := extract(tone(2000, rate, 0.25))
	require.Len(t, f, 7)
	assert.InDelta(t, 2000, f[0], 150, "centroid")
	assert.Less(t, f[1], 500.0, "bandwidth of a pure tone is narrow")
	assert.InDelta(t, 2000, f[2], 200, "rolloff")
	assert.Less(t, f[3], 0.1, "tones are not flat")
	assert.InDelta(t, 2*2000.0/rate, f[4], 0.01, "zero-crossing rate")
	assert.InDelta(t, 0.8/math.Sqrt2, f[5], 0.01, "rms")
	assert.InDelta(t, 0.25, f[6], 1e-9, "duration")

	higher := extract(tone(6000, rate, 0.25))
	assert.Greater(t, higher[0], f[0])
}

func TestStandardize(t *testing.T) {
	X := [][]float64{{1, 5}, {2, 5}, {3, 5}}
	standardize(X)

	col := []float64{X[0][0], X[1][0], X[2][0]}
	mean, std := stat.PopMeanStdDev(col, nil)
	assert.InDelta(t, 0, mean, 1e-12)
	assert.InDelta(t, 1, std, 1e-12)
	for _, row := range X {
		assert.Zero(t, row[1], "constant column")
	}
}
