package dsp

import "math"

// Envelope returns the moving average of |x| over a centered window of
// `window` samples. A window below 2 returns the rectified signal.
func Envelope(samples []float64, window int) []float64 {
	n := len(samples)
	out := make([]float64, n)
	if window < 2 {
		for i, v := range samples {
			out[i] = math.Abs(v)
		}
		return out
	}

	prefix := make([]float64, n+1)
	for i, v := range samples {
		prefix[i+1] = prefix[i] + math.Abs(v)
	}
	half := window / 2
	for i := range n {
		lo := max(i-half, 0)
		hi := min(i-half+window, n)
		out[i] = (prefix[hi] - prefix[lo]) / float64(hi-lo)
	}
	return out
}

// FrameEnergy returns the mean squared amplitude of consecutive frames.
// The last partial frame is included.
func FrameEnergy(samples []float64, frame, hop int) []float64 {
	if frame <= 0 || hop <= 0 || len(samples) == 0 {
		return nil
	}
	var out []float64
	for start := 0; start < len(samples); start += hop {
		end := min(start+frame, len(samples))
		var sum float64
		for _, v := range samples[start:end] {
			sum += v * v
		}
		out = append(out, sum/float64(end-start))
		if end == len(samples) {
			break
		}
	}
	return out
}

// Run is a maximal index range [Start, End) where a series exceeded a threshold.
type Run struct {
	Start, End int
}

// RunsAbove returns maximal runs where series[i] > threshold.
func RunsAbove(series []float64, threshold float64) []Run {
	var runs []Run
	start := -1
	for i, v := range series {
		switch {
		case v > threshold && start < 0:
			start = i
		case v <= threshold && start >= 0:
			runs = append(runs, Run{Start: start, End: i})
			start = -1
		}
	}
	if start >= 0 {
		runs = append(runs, Run{Start: start, End: len(series)})
	}
	return runs
}
