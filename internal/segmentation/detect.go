package segmentation

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/battycoda/battycoda/internal/audio"
	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/dsp"
)

// filtered applies the optional band-pass.
func filtered(clip audio.Clip, p Params) ([]float64, error) {
	if p.LowFreq == 0 && p.HighFreq == 0 {
		return clip.Samples, nil
	}
	out, err := dsp.BandPass(clip.Samples, clip.SampleRate, p.LowFreq, p.HighFreq)
	if err != nil {
		return nil, invalidParams("%v", err)
	}
	return out, nil
}

// DetectThreshold finds runs where the smoothed amplitude envelope exceeds
// threshold_factor times the envelope's standard deviation.
func DetectThreshold(clip audio.Clip, p Params) ([]datastore.Interval, error) {
	samples, err := filtered(clip, p)
	if err != nil {
		return nil, err
	}
	env := dsp.Envelope(samples, p.SmoothWindow)
	threshold := p.ThresholdFactor * stat.PopStdDev(env, nil)

	rate := float64(clip.SampleRate)
	minLen := p.MinDurationMs / 1000
	var out []datastore.Interval
	for _, r := range dsp.RunsAbove(env, threshold) {
		iv := datastore.Interval{
			Onset:  clip.Onset + float64(r.Start)/rate,
			Offset: clip.Onset + float64(r.End)/rate,
		}
		if iv.Offset-iv.Onset >= minLen {
			out = append(out, iv)
		}
	}
	return out, nil
}

// DetectEnergy finds runs of half-overlapping frames whose mean energy
// exceeds threshold_factor times the standard deviation of frame energy.
func DetectEnergy(clip audio.Clip, p Params) ([]datastore.Interval, error) {
	samples, err := filtered(clip, p)
	if err != nil {
		return nil, err
	}
	frameMs := p.FrameMs
	if frameMs == 0 {
		frameMs = defaultFrameMs
	}
	frame := max(int(math.Round(frameMs*float64(clip.SampleRate)/1000)), 2)
	hop := frame / 2

	energy := dsp.FrameEnergy(samples, frame, hop)
	if p.SmoothWindow > 1 {
		energy = dsp.Envelope(energy, p.SmoothWindow)
	}
	threshold := p.ThresholdFactor * stat.PopStdDev(energy, nil)

	rate := float64(clip.SampleRate)
	n := len(samples)
	minLen := p.MinDurationMs / 1000
	var out []datastore.Interval
	for _, r := range dsp.RunsAbove(energy, threshold) {
		startSample := r.Start * hop
		endSample := min((r.End-1)*hop+frame, n)
		iv := datastore.Interval{
			Onset:  clip.Onset + float64(startSample)/rate,
			Offset: clip.Onset + float64(endSample)/rate,
		}
		if iv.Offset-iv.Onset >= minLen {
			out = append(out, iv)
		}
	}
	return out, nil
}
