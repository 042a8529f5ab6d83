// Package pickle ingests onset/offset arrays supplied as Python pickles.
//
// Accepted shapes are a dict with "onsets" and "offsets" keys or a two
// element tuple/list (onsets, offsets). Sequences may hold ints, floats or
// arbitrary precision ints; ndarray pickles must be converted with tolist().
package pickle

import (
	"fmt"
	"io"
	"math"
	"math/big"

	pickle "github.com/kisielk/og-rek"

	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/errors"
)

// Options constrain ingestion.
type Options struct {
	// MaxDuration rejects offsets beyond it when positive.
	MaxDuration float64
}

func invalid(format string, args ...any) error {
	return errors.New(fmt.Errorf("%w: %s", errors.ErrInvalidSegmentData, fmt.Sprintf(format, args...))).
		Component("pickle").
		Category(errors.CategoryInvalidSegmentData).
		Build()
}

// Ingest decodes r and validates the intervals. The first violation rejects
// the whole input.
func Ingest(r io.Reader, opts Options) ([]datastore.Interval, error) {
	obj, err := pickle.NewDecoder(r).Decode()
	if err != nil {
		return nil, invalid("cannot decode pickle: %v", err)
	}
	onsetsRaw, offsetsRaw, err := splitArrays(obj)
	if err != nil {
		return nil, err
	}
	onsets, err := toFloats(onsetsRaw, "onsets")
	if err != nil {
		return nil, err
	}
	offsets, err := toFloats(offsetsRaw, "offsets")
	if err != nil {
		return nil, err
	}
	return Validate(onsets, offsets, opts)
}

// Validate pairs onsets with offsets and checks every interval.
func Validate(onsets, offsets []float64, opts Options) ([]datastore.Interval, error) {
	if len(onsets) != len(offsets) {
		return nil, invalid("onsets and offsets differ in length (%d vs %d)", len(onsets), len(offsets))
	}
	out := make([]datastore.Interval, len(onsets))
	for i := range onsets {
		on, off := onsets[i], offsets[i]
		switch {
		case on < 0:
			return nil, invalid("interval %d: onset %g is negative", i, on)
		case off <= on:
			return nil, invalid("interval %d: offset %g must be greater than onset %g", i, off, on)
		case opts.MaxDuration > 0 && off > opts.MaxDuration:
			return nil, invalid("interval %d: offset %g exceeds max duration %g", i, off, opts.MaxDuration)
		}
		out[i] = datastore.Interval{Onset: on, Offset: off}
	}
	return out, nil
}

func splitArrays(obj any) (onsets, offsets any, err error) {
	switch v := obj.(type) {
	case map[any]any:
		on, okOn := v["onsets"]
		off, okOff := v["offsets"]
		if !okOn || !okOff {
			return nil, nil, invalid("dict must contain 'onsets' and 'offsets'")
		}
		return on, off, nil
	case pickle.Tuple:
		return pair([]any(v))
	case []any:
		return pair(v)
	default:
		return nil, nil, invalid("unsupported top-level object %T", obj)
	}
}

func pair(items []any) (any, any, error) {
	if len(items) != 2 {
		return nil, nil, invalid("expected (onsets, offsets), got %d elements", len(items))
	}
	return items[0], items[1], nil
}

func toFloats(raw any, field string) ([]float64, error) {
	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case pickle.Tuple:
		items = v
	default:
		return nil, invalid("%s must be a sequence, got %T", field, raw)
	}

	out := make([]float64, len(items))
	for i, item := range items {
		f, err := toFloat(item)
		if err != nil {
			return nil, invalid("%s[%d]: %v", field, i, err)
		}
		out[i] = f
	}
	return out, nil
}

func toFloat(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int64:
		f = float64(n)
	case int:
		f = float64(n)
	case *big.Int:
		f, _ = new(big.Float).SetInt(n).Float64()
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number: %g", f)
	}
	return f, nil
}

// Dump writes intervals as a dict of float lists, the shape Ingest reads.
func Dump(w io.Writer, intervals []datastore.Interval) error {
	onsets := make([]any, len(intervals))
	offsets := make([]any, len(intervals))
	for i, iv := range intervals {
		onsets[i] = iv.Onset
		offsets[i] = iv.Offset
	}
	return pickle.NewEncoder(w).Encode(map[any]any{
		"onsets":  onsets,
		"offsets": offsets,
	})
}
