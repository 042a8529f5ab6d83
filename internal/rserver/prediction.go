package rserver

import "github.com/battycoda/battycoda/internal/datastore/entities"

// Prediction is a classifier response. It is either HighestOnly or Full.
type Prediction interface {
	prediction()
}

// HighestOnly is a single winning call with a percent confidence (0-100).
// Found is false when the server returned no call_type.
type HighestOnly struct {
	CallType   string
	Confidence float64
	Found      bool
}

// Full maps call short names to percent probabilities. Present is false
// when the server omitted all_probabilities.
type Full struct {
	Probabilities map[string]float64
	Present       bool
}

func (HighestOnly) prediction() {}
func (Full) prediction()        {}

func toPrediction(format entities.ResponseFormat, r *predictResponse) Prediction {
	if format == entities.ResponseFullProbability {
		if r.AllProbabilities == nil {
			return Full{}
		}
		probs := make(map[string]float64, len(r.AllProbabilities))
		for name, v := range r.AllProbabilities {
			if v.Valid {
				probs[name] = v.Value
			}
		}
		return Full{Probabilities: probs, Present: true}
	}

	if r.CallType == nil || *r.CallType == "" {
		return HighestOnly{}
	}
	return HighestOnly{CallType: *r.CallType, Confidence: r.Confidence.Value, Found: true}
}
