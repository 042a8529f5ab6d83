package clustering

import (
	"encoding/json"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gorm.io/datatypes"

	"github.com/battycoda/battycoda/internal/audio"
	"github.com/battycoda/battycoda/internal/dsp"
)

// Feature extraction methods.
const (
	FeaturesMFCC     = "mfcc"
	FeaturesSpectral = "spectral"
)

// FeatureParams tune extraction. Zero values keep the defaults.
type FeatureParams struct {
	FFTSize      int     `json:"n_fft"`
	Hop          int     `json:"hop_length"`
	MelBands     int     `json:"n_mels"`
	Coefficients int     `json:"n_mfcc"`
	RolloffPct   float64 `json:"rolloff_percent"`
}

// Extractor turns an audio clip into a fixed-length feature vector.
type Extractor func(clip audio.Clip) []float64

func newExtractor(method string, raw datatypes.JSON) (Extractor, error) {
	var fp FeatureParams
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &fp); err != nil {
			return nil, invalid("malformed feature parameters: %v", err)
		}
	}
	cfg := dsp.DefaultMFCCConfig()
	if fp.FFTSize > 0 {
		cfg.FFTSize = fp.FFTSize
	}
	if fp.Hop > 0 {
		cfg.Hop = fp.Hop
	}
	if fp.MelBands > 0 {
		cfg.MelBands = fp.MelBands
	}
	if fp.Coefficients > 0 {
		cfg.Coefficients = fp.Coefficients
	}
	if cfg.Coefficients > cfg.MelBands {
		return nil, invalid("n_mfcc (%d) exceeds n_mels (%d)", cfg.Coefficients, cfg.MelBands)
	}

	switch method {
	case "", FeaturesMFCC:
		return func(clip audio.Clip) []float64 {
			return dsp.MFCCSummary(clip.Samples, clip.SampleRate, cfg)
		}, nil
	case FeaturesSpectral:
		rolloff := fp.RolloffPct
		if rolloff <= 0 || rolloff >= 1 {
			rolloff = 0.85
		}
		return func(clip audio.Clip) []float64 {
			return spectralFeatures(clip, cfg.FFTSize, cfg.Hop, rolloff)
		}, nil
	default:
		return nil, invalid("unknown feature method %q", method)
	}
}

// spectralFeatures returns frame-averaged centroid, bandwidth, rolloff and
// flatness followed by zero-crossing rate, RMS and duration.
func spectralFeatures(clip audio.Clip, fftSize, hop int, rolloffPct float64) []float64 {
	spec := dsp.STFT(clip.Samples, fftSize, hop)
	freqs := make([]float64, fftSize/2+1)
	for k := range freqs {
		freqs[k] = dsp.BinFrequency(k, fftSize, clip.SampleRate)
	}

	var centroid, bandwidth, rolloff, flatness float64
	for _, frame := range spec {
		total := floats.Sum(frame)
		if total <= 0 {
			continue
		}
		c := floats.Dot(frame, freqs) / total
		var bw float64
		for k, p := range frame {
			d := freqs[k] - c
			bw += p * d * d
		}
		var acc float64
		ro := freqs[len(freqs)-1]
		for k, p := range frame {
			acc += p
			if acc >= rolloffPct*total {
				ro = freqs[k]
				break
			}
		}
		var logSum float64
		for _, p := range frame {
			logSum += math.Log(p + 1e-12)
		}
		geo := math.Exp(logSum / float64(len(frame)))

		centroid += c
		bandwidth += math.Sqrt(bw / total)
		rolloff += ro
		flatness += geo / (total / float64(len(frame)))
	}
	if n := float64(len(spec)); n > 0 {
		centroid /= n
		bandwidth /= n
		rolloff /= n
		flatness /= n
	}

	var crossings int
	for i := 1; i < len(clip.Samples); i++ {
		if (clip.Samples[i-1] >= 0) != (clip.Samples[i] >= 0) {
			crossings++
		}
	}
	var zcr, rms float64
	if n := len(clip.Samples); n > 0 {
		zcr = float64(crossings) / float64(n)
		rms = math.Sqrt(floats.Dot(clip.Samples, clip.Samples) / float64(n))
	}
	return []float64{centroid, bandwidth, rolloff, flatness, zcr, rms, clip.Duration()}
}

// standardize scales every column of X to zero mean and unit variance in
// place. Constant columns become zero.
func standardize(X [][]float64) {
	if len(X) == 0 {
		return
	}
	col := make([]float64, len(X))
	for d := range X[0] {
		for i := range X {
			col[i] = X[i][d]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		for i := range X {
			if std > 0 && !math.IsNaN(std) {
				X[i][d] = (X[i][d] - mean) / std
			} else {
				X[i][d] = 0
			}
		}
	}
}
