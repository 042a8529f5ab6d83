package audio

import (
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Creator creates media-root-relative files. *securefs.SecureFS satisfies it.
type Creator interface {
	Create(relPath string) (*os.File, error)
}

const (
	exportBitDepth = 16
	pcmFormat      = 1
)

// WriteWAV encodes mono samples in [-1, 1] as 16-bit PCM.
func WriteWAV(w io.WriteSeeker, samples []float64, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	enc := wav.NewEncoder(w, sampleRate, exportBitDepth, 1, pcmFormat)

	data := make([]int, len(samples))
	for i, s := range samples {
		s = math.Max(-1, math.Min(1, s))
		data[i] = int(math.Round(s * 32767))
	}
	buf := &goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{SampleRate: sampleRate, NumChannels: 1},
		SourceBitDepth: exportBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to encode WAV: %w", err)
	}
	return enc.Close()
}

// SaveWAV writes a clip to a media-root-relative path.
func SaveWAV(fs Creator, relPath string, samples []float64, sampleRate int) error {
	f, err := fs.Create(relPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", relPath, err)
	}
	if err := WriteWAV(f, samples, sampleRate); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
