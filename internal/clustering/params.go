package clustering

import (
	"encoding/json"
	"fmt"
	"slices"

	"gorm.io/datatypes"

	"github.com/battycoda/battycoda/internal/errors"
)

// Algorithm names.
const (
	AlgorithmKMeans       = "kmeans"
	AlgorithmDBSCAN       = "dbscan"
	AlgorithmHierarchical = "hierarchical"
	AlgorithmGMM          = "gaussian_mixture"
	AlgorithmSpectral     = "spectral"
	AlgorithmCustom       = "custom"
)

// Algorithms lists every supported algorithm.
var Algorithms = []string{
	AlgorithmKMeans, AlgorithmDBSCAN, AlgorithmHierarchical,
	AlgorithmGMM, AlgorithmSpectral, AlgorithmCustom,
}

// Linkage criteria for hierarchical clustering.
const (
	LinkageAverage  = "average"
	LinkageComplete = "complete"
	LinkageSingle   = "single"
)

// Params are the algorithm parameters. Fields that do not apply to the
// chosen algorithm are ignored.
type Params struct {
	NClusters  int     `json:"n_clusters"`
	MaxIter    int     `json:"max_iter"`
	Tol        float64 `json:"tol"`
	Seed       uint64  `json:"random_state"`
	Eps        float64 `json:"eps"`
	MinSamples int     `json:"min_samples"`
	Linkage    string  `json:"linkage"`
	Gamma      float64 `json:"gamma"` // spectral RBF width, 0 means 1/features
}

func defaultParams(nClusters int) Params {
	if nClusters <= 0 {
		nClusters = 5
	}
	return Params{
		NClusters:  nClusters,
		MaxIter:    300,
		Tol:        1e-4,
		Seed:       42,
		Eps:        2.0,
		MinSamples: 5,
		Linkage:    LinkageAverage,
	}
}

// parseParams overlays raw on the defaults and validates the result for
// algorithm.
func parseParams(algorithm string, raw datatypes.JSON, nClusters int) (Params, error) {
	if !slices.Contains(Algorithms, algorithm) {
		return Params{}, invalid("unknown clustering algorithm %q", algorithm)
	}
	p := defaultParams(nClusters)
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &p); err != nil {
			return Params{}, invalid("malformed clustering parameters: %v", err)
		}
	}
	switch {
	case p.NClusters < 1 && algorithm != AlgorithmDBSCAN && algorithm != AlgorithmCustom:
		return Params{}, invalid("n_clusters must be at least 1")
	case p.MaxIter < 1:
		return Params{}, invalid("max_iter must be at least 1")
	case p.Tol < 0:
		return Params{}, invalid("tol must not be negative")
	case algorithm == AlgorithmDBSCAN && (p.Eps <= 0 || p.MinSamples < 1):
		return Params{}, invalid("dbscan needs eps > 0 and min_samples >= 1")
	case algorithm == AlgorithmHierarchical && !slices.Contains([]string{LinkageAverage, LinkageComplete, LinkageSingle}, p.Linkage):
		return Params{}, invalid("unknown linkage %q", p.Linkage)
	case p.Gamma < 0:
		return Params{}, invalid("gamma must not be negative")
	}
	return p, nil
}

func invalid(format string, args ...any) error {
	return errors.New(fmt.Errorf("%w: %s", errors.ErrValidation, fmt.Sprintf(format, args...))).
		Component("clustering").
		Category(errors.CategoryValidation).
		Build()
}
