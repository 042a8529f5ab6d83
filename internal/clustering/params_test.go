package clustering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/battycoda/battycoda/internal/errors"
)

func TestParseParams(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		p, err := parseParams(AlgorithmKMeans, nil, 0)
		require.NoError(t, err)
		assert.Equal(t, defaultParams(5), p)
	})

	t.Run("configured cluster count", func(t *testing.T) {
		p, err := parseParams(AlgorithmKMeans, datatypes.JSON("null"), 8)
		require.NoError(t, err)
		assert.Equal(t, 8, p.NClusters)
	})

	t.Run("overrides", func(t *testing.T) {
		p, err := parseParams(AlgorithmHierarchical,
			datatypes.JSON(`{"n_clusters":3,"linkage":"complete","random_state":1}`), 0)
		require.NoError(t, err)
		assert.Equal(t, 3, p.NClusters)
		assert.Equal(t, LinkageComplete, p.Linkage)
		assert.Equal(t, uint64(1), p.Seed)
		assert.Equal(t, 300, p.MaxIter)
	})

	invalidCases := []struct {
		name      string
		algorithm string
		raw       string
	}{
		{"unknown algorithm", "affinity_propagation", ``},
		{"malformed json", AlgorithmKMeans, `{"n_clusters":`},
		{"zero clusters", AlgorithmKMeans, `{"n_clusters":0}`},
		{"zero max_iter", AlgorithmGMM, `{"max_iter":0}`},
		{"dbscan eps", AlgorithmDBSCAN, `{"eps":0}`},
		{"dbscan min_samples", AlgorithmDBSCAN, `{"min_samples":0}`},
		{"linkage", AlgorithmHierarchical, `{"linkage":"ward2"}`},
		{"negative gamma", AlgorithmSpectral, `{"gamma":-1}`},
	}
	for _, tc := range invalidCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseParams(tc.algorithm, datatypes.JSON(tc.raw), 0)
			require.ErrorIs(t, err, errors.ErrValidation)
		})
	}

	t.Run("dbscan ignores n_clusters", func(t *testing.T) {
		_, err := parseParams(AlgorithmDBSCAN, datatypes.JSON(`{"n_clusters":0}`), 0)
		require.NoError(t, err)
	})
}
