package pickle

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/errors"
)

// Protocol 0 pickle of {'onsets': [0.0, 1.0], 'offsets': [0.5, 2.0]}.
const dictPickle = "(dp0\nS'onsets'\np1\n(lp2\nF0.0\naF1.0\nasS'offsets'\np3\n(lp4\nF0.5\naF2.0\nas."

// Protocol 0 pickle of ([0, 1], [0.5, 2.0]).
const tuplePickle = "((lp0\nI0\naI1\na(lp1\nF0.5\naF2.0\nat."

func TestIngest(t *testing.T) {
	t.Parallel()

	want := []datastore.Interval{{Onset: 0, Offset: 0.5}, {Onset: 1, Offset: 2}}
	for name, src := range map[string]string{"dict": dictPickle, "tuple": tuplePickle} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got, err := Ingest(strings.NewReader(src), Options{MaxDuration: 2.0})
			require.NoError(t, err)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("intervals mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIngestMaxDuration(t *testing.T) {
	t.Parallel()

	_, err := Ingest(strings.NewReader(dictPickle), Options{MaxDuration: 1.5})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidSegmentData)
	assert.Equal(t, errors.KindInvalidSegmentData, errors.KindOf(err))
	assert.Contains(t, err.Error(), "max duration")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		onsets  []float64
		offsets []float64
		reason  string
	}{
		{"length mismatch", []float64{0, 1}, []float64{0.5}, "differ in length"},
		{"negative onset", []float64{-0.1}, []float64{0.5}, "negative"},
		{"empty interval", []float64{1}, []float64{1}, "greater than onset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Validate(tt.onsets, tt.offsets, Options{})
			require.ErrorIs(t, err, errors.ErrInvalidSegmentData)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestIngestRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := Ingest(strings.NewReader("not a pickle"), Options{})
	assert.ErrorIs(t, err, errors.ErrInvalidSegmentData)

	// A dict without the expected keys.
	_, err = Ingest(strings.NewReader("(dp0\nS'x'\np1\nI1\ns."), Options{})
	assert.ErrorIs(t, err, errors.ErrInvalidSegmentData)
}

func TestDumpRoundTrip(t *testing.T) {
	t.Parallel()

	in := []datastore.Interval{
		{Onset: 0.0125, Offset: 0.0375},
		{Onset: 1.1, Offset: 1.25},
		{Onset: 7.5, Offset: 9.999},
	}
	var buf bytes.Buffer
	require.NoError(t, Dump(&buf, in))

	out, err := Ingest(&buf, Options{})
	require.NoError(t, err)
	if diff := cmp.Diff(in, out, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("round trip mismatch (-in +out):\n%s", diff)
	}
}
