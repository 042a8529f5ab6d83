// Package spectrogram renders spectrogram images of recordings.
//
// Images are PNG heat maps of STFT power in decibels, written below
// spectrograms/ in the media root and reused when already present.
package spectrogram

import (
	"bytes"
	"context"
	"math"

	"golang.org/x/sync/singleflight"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/battycoda/battycoda/internal/audio"
	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/dsp"
	"github.com/battycoda/battycoda/internal/errors"
	"github.com/battycoda/battycoda/internal/logger"
)

const (
	defaultFFTSize = 512
	defaultHopSize = 128
	defaultHeight  = 300

	// dynamicRange is the span in dB below the loudest cell that is drawn.
	dynamicRange = 100.0

	// maxColumns bounds the time resolution of one image.
	maxColumns = 4000
)

// Media is the media root. *securefs.SecureFS implements it.
type Media interface {
	audio.Opener
	Exists(relPath string) (bool, error)
	WriteFileAtomic(relPath string, data []byte) error
}

// Generator renders and caches spectrogram images.
type Generator struct {
	media   Media
	fftSize int
	hop     int
	width   int
	height  int
	group   singleflight.Group
}

// NewGenerator creates a generator. Zero settings use the defaults.
func NewGenerator(media Media, settings *conf.SpectrogramSettings) *Generator {
	g := &Generator{
		media:   media,
		fftSize: defaultFFTSize,
		hop:     defaultHopSize,
		width:   sizeMediumPx,
		height:  defaultHeight,
	}
	if settings != nil {
		if settings.FFTSize > 0 {
			g.fftSize = settings.FFTSize
		}
		if settings.HopSize > 0 {
			g.hop = settings.HopSize
		}
		if settings.Width > 0 {
			g.width = settings.Width
		}
		if settings.Height > 0 {
			g.height = settings.Height
		}
	}
	return g
}

// Generate renders [onset, offset) of the WAV at audioPath into outputPath
// unless the file already exists. It reports whether a cached image was
// reused. Concurrent calls for the same output render once.
func (g *Generator) Generate(ctx context.Context, audioPath, outputPath string, onset, offset float64) (bool, error) {
	exists, err := g.media.Exists(outputPath)
	if err != nil {
		return false, err
	}
	if exists {
		return true, nil
	}

	_, err, shared := g.group.Do(outputPath, func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		clip, err := audio.ExtractSegment(g.media, audioPath, onset, offset)
		if err != nil {
			return nil, err
		}
		data, err := g.Render(clip)
		if err != nil {
			return nil, err
		}
		if err := g.media.WriteFileAtomic(outputPath, data); err != nil {
			return nil, errors.New(err).
				Component("spectrogram").
				Category(errors.CategoryFileIO).
				Context("operation", "write_spectrogram").
				Context("output_path", outputPath).
				Build()
		}
		GetLogger().Debug("spectrogram rendered",
			logger.String("output_path", outputPath),
			logger.Int("samples", len(clip.Samples)))
		return nil, nil
	})
	return shared, err
}

// powerGrid adapts STFT rows to plotter.GridXYZ. Columns are time frames
// and rows frequency bins.
type powerGrid struct {
	db      [][]float64
	hop     int
	fftSize int
	rate    int
	onset   float64
}

func (p *powerGrid) Dims() (c, r int) { return len(p.db), len(p.db[0]) }
func (p *powerGrid) Z(c, r int) float64 { return p.db[c][r] }
func (p *powerGrid) X(c int) float64 {
	return p.onset + float64(c*p.hop)/float64(p.rate)
}
func (p *powerGrid) Y(r int) float64 {
	return dsp.BinFrequency(r, p.fftSize, p.rate) / 1000
}

// Render returns the PNG bytes of the spectrogram of clip.
func (g *Generator) Render(clip audio.Clip) ([]byte, error) {
	if clip.SampleRate <= 0 || len(clip.Samples) == 0 {
		return nil, errors.Newf("cannot render an empty clip").
			Component("spectrogram").
			Category(errors.CategoryValidation).
			Context("operation", "render").
			Build()
	}

	hop := g.hop
	if frames := len(clip.Samples) / hop; frames > maxColumns {
		hop = len(clip.Samples) / maxColumns
	}
	power := dsp.STFT(clip.Samples, g.fftSize, hop)

	peak := math.Inf(-1)
	db := make([][]float64, len(power))
	for i, row := range power {
		db[i] = make([]float64, len(row))
		for k, p := range row {
			v := dsp.PowerToDB(p)
			db[i][k] = v
			peak = math.Max(peak, v)
		}
	}
	floor := peak - dynamicRange
	for _, row := range db {
		for k := range row {
			row[k] = math.Max(row[k], floor)
		}
	}

	grid := &powerGrid{db: db, hop: hop, fftSize: g.fftSize, rate: clip.SampleRate, onset: clip.Onset}
	heat := plotter.NewHeatMap(grid, palette.Heat(256, 1))
	heat.Min, heat.Max = floor, peak
	if heat.Max <= heat.Min {
		heat.Max = heat.Min + 1
	}

	p := plot.New()
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Frequency (kHz)"
	p.Add(heat)

	w, err := p.WriterTo(vg.Length(g.width), vg.Length(g.height), "png")
	if err != nil {
		return nil, errors.New(err).
			Component("spectrogram").
			Category(errors.CategoryProcessing).
			Context("operation", "render").
			Build()
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, errors.New(err).
			Component("spectrogram").
			Category(errors.CategoryProcessing).
			Context("operation", "encode_png").
			Build()
	}
	return buf.Bytes(), nil
}
