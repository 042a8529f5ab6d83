package classification

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/rserver"
)

func testCalls() []entities.Call {
	return []entities.Call{
		{ID: 1, ShortName: "A"},
		{ID: 2, ShortName: "B"},
		{ID: 3, ShortName: "C"},
	}
}

func TestInterpret(t *testing.T) {
	third := 1.0 / 3
	tests := []struct {
		name     string
		pred     rserver.Prediction
		want     map[uint]float64
		wantNote bool
	}{
		{
			name: "highest only",
			pred: rserver.HighestOnly{CallType: "A", Confidence: 80, Found: true},
			want: map[uint]float64{1: 0.8, 2: 0, 3: 0},
		},
		{
			name: "highest only clamps",
			pred: rserver.HighestOnly{CallType: "B", Confidence: 140, Found: true},
			want: map[uint]float64{1: 0, 2: 1, 3: 0},
		},
		{
			name:     "highest only unknown call",
			pred:     rserver.HighestOnly{CallType: "Z", Confidence: 90, Found: true},
			want:     map[uint]float64{1: third, 2: third, 3: third},
			wantNote: true,
		},
		{
			name:     "highest only missing call type",
			pred:     rserver.HighestOnly{},
			want:     map[uint]float64{1: third, 2: third, 3: third},
			wantNote: true,
		},
		{
			name: "full with missing and out of range values",
			pred: rserver.Full{Present: true, Probabilities: map[string]float64{"A": 55, "B": -3, "X": 40}},
			want: map[uint]float64{1: 0.55, 2: 0, 3: MissingProbability},
		},
		{
			name:     "full without probabilities",
			pred:     rserver.Full{},
			want:     map[uint]float64{1: third, 2: third, 3: third},
			wantNote: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, note := Interpret(tt.pred, testCalls())
			assert.Len(t, got, len(tt.want))
			for id, p := range tt.want {
				assert.InDelta(t, p, got[id], 1e-9, "call %d", id)
			}
			if tt.wantNote {
				assert.NotEmpty(t, note)
			} else {
				assert.Empty(t, note)
			}
		})
	}
}

func TestUniform_NoCalls(t *testing.T) {
	assert.Empty(t, Uniform(nil))
}

func probs(values map[string]float64) []entities.CallProbability {
	out := make([]entities.CallProbability, 0, len(values))
	var id uint
	for name, p := range values {
		id++
		out = append(out, entities.CallProbability{CallID: id, Probability: p, Call: &entities.Call{ID: id, ShortName: name}})
	}
	return out
}

func TestBestLabel(t *testing.T) {
	t.Run("highest wins", func(t *testing.T) {
		label, p, ok := BestLabel(probs(map[string]float64{"FM": 0.2, "CF": 0.7, "QCF": 0.1}), 0.5)
		assert.True(t, ok)
		assert.Equal(t, "CF", label)
		assert.InDelta(t, 0.7, p, 0)
	})

	t.Run("ties go to the smallest short name", func(t *testing.T) {
		for range 20 {
			label, _, ok := BestLabel(probs(map[string]float64{"b": 0.4, "a": 0.4, "c": 0.2}), 0)
			assert.True(t, ok)
			assert.Equal(t, "a", label)
		}
	})

	t.Run("below threshold", func(t *testing.T) {
		label, p, ok := BestLabel(probs(map[string]float64{"a": 0.3, "b": 0.3, "c": 0.3}), 0.5)
		assert.False(t, ok)
		assert.Equal(t, "a", label)
		assert.InDelta(t, 0.3, p, 0)
	})

	t.Run("empty", func(t *testing.T) {
		_, p, ok := BestLabel(nil, 0)
		assert.False(t, ok)
		assert.False(t, math.IsNaN(p))
	})
}
