package wav

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"

	"github.com/justapithecus/earshot/iox"
	"github.com/justapithecus/earshot/types"
)

// peakWindow is the number of leading samples scanned for the peak level.
const peakWindow = 16000

// Info summarizes a WAV file on disk.
type Info struct {
	Path string `json:"path" yaml:"path"`
	// Format is the PCM format declared by the fmt chunk.
	Format types.AudioFormat `json:"format" yaml:"format"`
	// DeclaredBytes is the size recorded in the data chunk header.
	DeclaredBytes int64 `json:"declared_bytes" yaml:"declared_bytes"`
	// ActualBytes is the file size minus the header.
	ActualBytes int64 `json:"actual_bytes" yaml:"actual_bytes"`
	// Duration is derived from the declared data size and byte rate.
	Duration time.Duration `json:"duration" yaml:"duration"`
	// Peak is the largest absolute sample value in the leading window,
	// normalized to [0,1].
	Peak float64 `json:"peak" yaml:"peak"`
	// Consistent is true when the declared and actual sizes match.
	Consistent bool `json:"consistent" yaml:"consistent"`
}

// Inspect decodes the header of the WAV file at path.
func Inspect(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer iox.DiscardClose(f)

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}

	raw := make([]byte, HeaderSize)
	if _, err := f.ReadAt(raw, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	hdr, err := ParseHeader(raw)
	if err != nil {
		return nil, err
	}

	d := gowav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidHeader, path)
	}
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("read wav info: %w", err)
	}

	info := &Info{
		Path: path,
		Format: types.AudioFormat{
			SampleRate: int(d.SampleRate),
			BitDepth:   int(d.BitDepth),
			Channels:   int(d.NumChans),
		},
		DeclaredBytes: int64(hdr.DataSize),
		ActualBytes:   st.Size() - HeaderSize,
	}
	if info.ActualBytes < 0 {
		info.ActualBytes = 0
	}
	info.Consistent = info.DeclaredBytes == info.ActualBytes

	if br := info.Format.ByteRate(); br > 0 {
		info.Duration = time.Duration(float64(info.DeclaredBytes) / float64(br) * float64(time.Second))
	}

	if info.Format.BitDepth > 0 && info.ActualBytes > 0 {
		buf := &audio.IntBuffer{
			Format: d.Format(),
			Data:   make([]int, peakWindow),
		}
		n, err := d.PCMBuffer(buf)
		if err == nil && n > 0 {
			info.Peak = peak(buf.Data[:n], info.Format.BitDepth)
		}
	}
	return info, nil
}

func peak(samples []int, bitDepth int) float64 {
	full := math.Exp2(float64(bitDepth - 1))
	var maxAbs int
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > maxAbs {
			maxAbs = s
		}
	}
	return math.Min(float64(maxAbs)/full, 1)
}
