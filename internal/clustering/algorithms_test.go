package clustering

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battycoda/battycoda/internal/errors"
)

// blobs returns perSize points around each center and the true group of
// every point.
func blobs(centers [][]float64, perSize int, spread float64) ([][]float64, []int) {
	rng := rand.New(rand.NewPCG(7, 11))
	var X [][]float64
	var truth []int
	for g, c := range centers {
		for range perSize {
			p := make([]float64, len(c))
			for d := range c {
				p[d] = c[d] + rng.NormFloat64()*spread
			}
			X = append(X, p)
			truth = append(truth, g)
		}
	}
	return X, truth
}

var threeCenters = [][]float64{{0, 0}, {10, 0}, {0, 10}}

// assertRecovers checks that labels partition the points exactly like truth.
func assertRecovers(t *testing.T, truth, labels []int) {
	t.Helper()
	require.Len(t, labels, len(truth))
	toLabel := map[int]int{}
	toGroup := map[int]int{}
	for i, g := range truth {
		l := labels[i]
		require.NotEqual(t, Noise, l, "point %d unassigned", i)
		if prev, ok := toLabel[g]; ok {
			require.Equal(t, prev, l, "group %d split", g)
		}
		if prev, ok := toGroup[l]; ok {
			require.Equal(t, prev, g, "label %d merges groups", l)
		}
		toLabel[g], toGroup[l] = l, g
	}
}

func TestAlgorithms_RecoverSeparatedBlobs(t *testing.T) {
	X, truth := blobs(threeCenters, 20, 0.3)
	p := defaultParams(3)

	tests := []struct {
		name string
		run  func(context.Context, [][]float64, Params) (*Assignment, error)
		mod  func(*Params)
	}{
		{"kmeans", KMeans, nil},
		{"gaussian mixture", GaussianMixture, nil},
		{"hierarchical average", Hierarchical, nil},
		{"hierarchical complete", Hierarchical, func(p *Params) { p.Linkage = LinkageComplete }},
		{"hierarchical single", Hierarchical, func(p *Params) { p.Linkage = LinkageSingle }},
		{"spectral", Spectral, nil},
		{"dbscan", DBSCAN, func(p *Params) { p.Eps, p.MinSamples = 1.5, 3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := p
			if tt.mod != nil {
				tt.mod(&params)
			}
			got, err := tt.run(t.Context(), X, params)
			require.NoError(t, err)
			assertRecovers(t, truth, got.Labels)
			for _, c := range got.Confidence {
				assert.InDelta(t, 1.0, c, 0.01)
			}
		})
	}
}

func TestKMeans_Deterministic(t *testing.T) {
	X, _ := blobs(threeCenters, 15, 1.5)
	p := defaultParams(4)

	a, err := KMeans(t.Context(), X, p)
	require.NoError(t, err)
	b, err := KMeans(t.Context(), X, p)
	require.NoError(t, err)
	assert.Equal(t, a.Labels, b.Labels)
}

func TestKMeans_MoreClustersThanPoints(t *testing.T) {
	X := [][]float64{{0}, {1}}
	got, err := KMeans(t.Context(), X, defaultParams(5))
	require.NoError(t, err)
	assert.NotEqual(t, got.Labels[0], got.Labels[1])
}

func TestDBSCAN_MarksOutliersAsNoise(t *testing.T) {
	X, _ := blobs(threeCenters[:2], 10, 0.2)
	X = append(X, []float64{50, 50})

	p := defaultParams(0)
	p.Eps, p.MinSamples = 1.0, 3
	got, err := DBSCAN(t.Context(), X, p)
	require.NoError(t, err)

	assert.Equal(t, Noise, got.Labels[len(X)-1])
	assert.Zero(t, got.Confidence[len(X)-1])
	assert.Equal(t, 2, compact(append([]int(nil), got.Labels...)))
}

func TestGaussianMixture_SoftConfidence(t *testing.T) {
	X := [][]float64{{0}, {0.1}, {-0.1}, {4}, {4.1}, {3.9}, {2}}
	p := defaultParams(2)
	got, err := GaussianMixture(t.Context(), X, p)
	require.NoError(t, err)

	for _, c := range got.Confidence {
		assert.GreaterOrEqual(t, c, 0.5)
		assert.LessOrEqual(t, c, 1.0)
	}
	assert.Equal(t, got.Labels[0], got.Labels[1])
	assert.NotEqual(t, got.Labels[0], got.Labels[3])
}

func TestSizeLimits(t *testing.T) {
	big := make([][]float64, maxDenseSamples+1)
	for i := range big {
		big[i] = []float64{float64(i)}
	}
	_, err := Hierarchical(t.Context(), big, defaultParams(2))
	require.ErrorIs(t, err, errors.ErrValidation)

	_, err = Spectral(t.Context(), big[:maxSpectralSamples+1], defaultParams(2))
	require.ErrorIs(t, err, errors.ErrValidation)
}

func TestAlgorithms_HonorCancellation(t *testing.T) {
	X, _ := blobs(threeCenters, 10, 0.3)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := KMeans(ctx, X, defaultParams(3))
	require.ErrorIs(t, err, context.Canceled)
	_, err = Hierarchical(ctx, X, defaultParams(3))
	require.ErrorIs(t, err, context.Canceled)
}

func TestSilhouette(t *testing.T) {
	X, truth := blobs(threeCenters, 10, 0.3)
	score, ok := Silhouette(X, truth, 1)
	require.True(t, ok)
	assert.Greater(t, score, 0.9)

	_, ok = Silhouette(X, make([]int, len(X)), 1)
	assert.False(t, ok, "a single cluster has no silhouette")
}

func TestCompact(t *testing.T) {
	labels := []int{5, 5, Noise, 2, 9, 2}
	k := compact(labels)
	assert.Equal(t, 3, k)
	assert.Equal(t, []int{0, 0, Noise, 1, 2, 1}, labels)
}

func TestProject2D_CollinearPoints(t *testing.T) {
	X := [][]float64{{0, 0, 0}, {1, 2, 3}, {2, 4, 6}, {3, 6, 9}}
	vis := project2D(X)
	require.Len(t, vis, 4)
	for _, v := range vis {
		assert.InDelta(t, 0, v[1], 1e-9)
	}
	spread := vis[3][0] - vis[0][0]
	assert.InDelta(t, 11.2249, math.Abs(spread), 1e-3) // 3·sqrt(14)
}
