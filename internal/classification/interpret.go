package classification

import (
	"fmt"
	"math"
	"sort"

	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/rserver"
)

// MissingProbability is used for a call absent from a full_probability
// response.
const MissingProbability = 0.01

// Interpret maps a prediction onto one probability per call. The note is
// non-empty when the response could not be used as is and a uniform
// distribution was stored instead.
func Interpret(pred rserver.Prediction, calls []entities.Call) (map[uint]float64, string) {
	switch p := pred.(type) {
	case rserver.HighestOnly:
		if !p.Found {
			return Uniform(calls), "response has no call_type"
		}
		var winner *entities.Call
		for i := range calls {
			if calls[i].ShortName == p.CallType {
				winner = &calls[i]
				break
			}
		}
		if winner == nil {
			return Uniform(calls), fmt.Sprintf("call type %q is not a call of the species", p.CallType)
		}
		out := make(map[uint]float64, len(calls))
		for _, c := range calls {
			out[c.ID] = 0
		}
		out[winner.ID] = clamp01(p.Confidence / 100)
		return out, ""

	case rserver.Full:
		if !p.Present {
			return Uniform(calls), "response has no all_probabilities"
		}
		out := make(map[uint]float64, len(calls))
		for _, c := range calls {
			v, ok := p.Probabilities[c.ShortName]
			if !ok {
				out[c.ID] = MissingProbability
				continue
			}
			out[c.ID] = clamp01(v / 100)
		}
		return out, ""
	}
	return Uniform(calls), fmt.Sprintf("unsupported prediction %T", pred)
}

// Uniform assigns 1/len(calls) to every call.
func Uniform(calls []entities.Call) map[uint]float64 {
	out := make(map[uint]float64, len(calls))
	if len(calls) == 0 {
		return out
	}
	p := 1 / float64(len(calls))
	for _, c := range calls {
		out[c.ID] = p
	}
	return out
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// BestLabel returns the short name with the highest probability. Exact ties
// go to the lexicographically smallest short name. ok is false when the
// best probability is below threshold or there are no probabilities.
// Probabilities must have Call loaded.
func BestLabel(probs []entities.CallProbability, threshold float64) (label string, probability float64, ok bool) {
	ranked := make([]entities.CallProbability, 0, len(probs))
	for _, p := range probs {
		if p.Call != nil {
			ranked = append(ranked, p)
		}
	}
	if len(ranked) == 0 {
		return "", 0, false
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Probability != ranked[j].Probability {
			return ranked[i].Probability > ranked[j].Probability
		}
		return ranked[i].Call.ShortName < ranked[j].Call.ShortName
	})
	best := ranked[0]
	if best.Probability < threshold {
		return best.Call.ShortName, best.Probability, false
	}
	return best.Call.ShortName, best.Probability, true
}
