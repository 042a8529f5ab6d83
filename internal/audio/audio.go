// Package audio decodes WAV recordings and extracts time-range slices.
//
// Samples are returned at the file's native rate, downmixed to mono and
// scaled to [-1, 1]. Slices seek straight to the onset frame and decode only
// the requested range.
package audio

import (
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/battycoda/battycoda/internal/errors"
	"github.com/battycoda/battycoda/internal/logger"
)

// GetLogger returns the audio module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("audio")
}

// decodeFrames is the number of frames decoded per PCMBuffer call.
const decodeFrames = 16384

// Opener opens media-root-relative paths. *securefs.SecureFS satisfies it.
type Opener interface {
	Open(relPath string) (*os.File, error)
}

// Info describes a WAV file.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Frames     int64
	Duration   float64 // seconds
}

// Clip is a mono slice of audio.
type Clip struct {
	Samples    []float64
	SampleRate int
	Onset      float64 // seconds from the start of the file
}

// Duration returns the clip length in seconds.
func (c Clip) Duration() float64 {
	if c.SampleRate == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

func invalidAudio(name string, format string, args ...any) error {
	return errors.New(fmt.Errorf("%w: %s: %s", errors.ErrInvalidAudio, name, fmt.Sprintf(format, args...))).
		Component("audio").
		Category(errors.CategoryInvalidAudio).
		Context("file", name).
		Build()
}

func sampleDivisor(bitDepth int) (float64, error) {
	switch bitDepth {
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}
}

// openDecoder validates the header and positions the decoder at the PCM data.
func openDecoder(r io.ReadSeeker, name string) (*wav.Decoder, Info, error) {
	decoder := wav.NewDecoder(r)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, Info{}, invalidAudio(name, "not a valid WAV file")
	}
	if err := decoder.FwdToPCM(); err != nil {
		return nil, Info{}, invalidAudio(name, "no PCM data: %v", err)
	}

	info := Info{
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
		BitDepth:   int(decoder.BitDepth),
	}
	if info.SampleRate <= 0 || info.Channels <= 0 {
		return nil, Info{}, invalidAudio(name, "bad format: %d Hz, %d channels", info.SampleRate, info.Channels)
	}
	if _, err := sampleDivisor(info.BitDepth); err != nil {
		return nil, Info{}, invalidAudio(name, "%v", err)
	}

	frameBytes := int64(info.BitDepth/8) * int64(info.Channels)
	info.Frames = decoder.PCMLen() / frameBytes
	if info.Frames == 0 {
		return nil, Info{}, invalidAudio(name, "file contains no samples")
	}
	info.Duration = float64(info.Frames) / float64(info.SampleRate)
	return decoder, info, nil
}

// InspectReader reads the header of a WAV stream.
func InspectReader(r io.ReadSeeker, name string) (Info, error) {
	_, info, err := openDecoder(r, name)
	return info, err
}

// Inspect returns duration, sample rate and channel count of a file.
func Inspect(fs Opener, relPath string) (Info, error) {
	f, err := fs.Open(relPath)
	if err != nil {
		return Info{}, invalidAudio(relPath, "open failed: %v", err)
	}
	defer closeFile(f)
	return InspectReader(f, relPath)
}

// Load decodes durationS seconds starting at offsetS. A non-positive
// duration reads to the end of the file.
func Load(fs Opener, relPath string, offsetS, durationS float64) (Clip, error) {
	f, err := fs.Open(relPath)
	if err != nil {
		return Clip{}, invalidAudio(relPath, "open failed: %v", err)
	}
	defer closeFile(f)
	return LoadReader(f, relPath, offsetS, durationS)
}

// ExtractSegment decodes the half-open range [onsetS, offsetS).
func ExtractSegment(fs Opener, relPath string, onsetS, offsetS float64) (Clip, error) {
	if offsetS <= onsetS {
		return Clip{}, errors.ValidationError(fmt.Sprintf("segment offset %.6f must be greater than onset %.6f", offsetS, onsetS))
	}
	return Load(fs, relPath, onsetS, offsetS-onsetS)
}

// LoadReader is Load over an already open stream.
func LoadReader(r io.ReadSeeker, name string, offsetS, durationS float64) (Clip, error) {
	if offsetS < 0 || math.IsNaN(offsetS) {
		return Clip{}, errors.ValidationError(fmt.Sprintf("offset %.6f must be non-negative", offsetS))
	}
	decoder, info, err := openDecoder(r, name)
	if err != nil {
		return Clip{}, err
	}

	start := int64(math.Floor(offsetS * float64(info.SampleRate)))
	end := info.Frames
	if durationS > 0 {
		end = min(start+int64(math.Round(durationS*float64(info.SampleRate))), info.Frames)
	}
	if start >= info.Frames {
		return Clip{}, invalidAudio(name, "offset %.3fs is past the end (%.3fs)", offsetS, info.Duration)
	}

	// The decoder reads PCM frames straight from r, so skipping to the
	// onset is a seek relative to the start of the data chunk.
	if start > 0 {
		dataStart, err := r.Seek(0, io.SeekCurrent)
		if err != nil {
			return Clip{}, invalidAudio(name, "seek failed: %v", err)
		}
		frameBytes := int64(info.BitDepth/8) * int64(info.Channels)
		if _, err := r.Seek(dataStart+start*frameBytes, io.SeekStart); err != nil {
			return Clip{}, invalidAudio(name, "seek failed: %v", err)
		}
	}

	divisor, _ := sampleDivisor(info.BitDepth)
	out := make([]float64, 0, end-start)
	buf := &goaudio.IntBuffer{
		Data:   make([]int, decodeFrames*info.Channels),
		Format: &goaudio.Format{SampleRate: info.SampleRate, NumChannels: info.Channels},
	}

	frame := start
	for frame < end {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return Clip{}, invalidAudio(name, "decode failed: %v", err)
		}
		if n == 0 {
			break
		}
		frames := int64(n / info.Channels)
		for i := range frames {
			if frame+i >= end {
				break
			}
			var sum float64
			base := int(i) * info.Channels
			for c := range info.Channels {
				sum += float64(buf.Data[base+c])
			}
			out = append(out, sum/float64(info.Channels)/divisor)
		}
		frame += frames
	}

	if len(out) == 0 {
		return Clip{}, invalidAudio(name, "requested range holds no samples")
	}
	return Clip{Samples: out, SampleRate: info.SampleRate, Onset: float64(start) / float64(info.SampleRate)}, nil
}

func closeFile(f *os.File) {
	if err := f.Close(); err != nil {
		GetLogger().Warn("failed to close audio file", logger.Error(err))
	}
}
