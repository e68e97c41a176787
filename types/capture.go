package types

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultFileName is the recording name used when none is configured.
const DefaultFileName = "record.wav"

// MaxDataBytes is the largest payload a WAV header can declare: the RIFF
// size field holds the payload plus 36 header bytes in 32 bits.
const MaxDataBytes = math.MaxUint32 - 36

// MaxFileNameLen bounds the recording identifier (the device stores it
// in a fixed 32-byte field, one byte reserved for the terminator).
const MaxFileNameLen = 31

// AudioFormat describes raw little-endian PCM samples.
type AudioFormat struct {
	SampleRate int `json:"sample_rate" yaml:"sample_rate"`
	BitDepth   int `json:"bit_depth" yaml:"bit_depth"`
	Channels   int `json:"channels" yaml:"channels"`
}

// DefaultAudioFormat is 16 kHz, 16-bit, mono.
func DefaultAudioFormat() AudioFormat {
	return AudioFormat{SampleRate: 16000, BitDepth: 16, Channels: 1}
}

// ByteRate is sampleRate * bitDepth/8 * channels.
func (f AudioFormat) ByteRate() int {
	return f.SampleRate * (f.BitDepth / 8) * f.Channels
}

// BlockAlign is the size in bytes of one frame (one sample per channel).
func (f AudioFormat) BlockAlign() int {
	return (f.BitDepth / 8) * f.Channels
}

// Validate rejects formats a WAV PCM header cannot describe.
func (f AudioFormat) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be > 0, got %d", f.SampleRate)
	}
	switch f.BitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("bit_depth must be 8, 16, 24 or 32, got %d", f.BitDepth)
	}
	if f.Channels < 1 {
		return fmt.Errorf("channels must be >= 1, got %d", f.Channels)
	}
	return nil
}

// CaptureContext describes one recording. It is immutable once capture
// begins and discarded after the upload stage.
type CaptureContext struct {
	// FileName is the recording identifier, also used as the upload resource name.
	FileName string
	// DurationSeconds is the source of truth for how many bytes to capture.
	DurationSeconds uint32
}

// DefaultCaptureContext returns a context named DefaultFileName.
func DefaultCaptureContext(durationSeconds uint32) CaptureContext {
	return CaptureContext{
		FileName:        DefaultFileName,
		DurationSeconds: durationSeconds,
	}
}

// TargetBytes is byteRate * durationSeconds.
func (c CaptureContext) TargetBytes(f AudioFormat) int64 {
	return int64(f.ByteRate()) * int64(c.DurationSeconds)
}

// Validate checks the file name bound and the duration.
func (c CaptureContext) Validate() error {
	return errors.Join(ValidateFileName(c.FileName), c.validateDuration())
}

func (c CaptureContext) validateDuration() error {
	if c.DurationSeconds == 0 {
		return errors.New("duration must be >= 1 second")
	}
	return nil
}

// ValidateFor checks that the recording fits in one WAV file of format f.
func (c CaptureContext) ValidateFor(f AudioFormat) error {
	if target := c.TargetBytes(f); target > MaxDataBytes {
		return fmt.Errorf("duration %ds needs %d bytes, a WAV file holds at most %d", c.DurationSeconds, target, int64(MaxDataBytes))
	}
	return nil
}

// ValidateFileName enforces the recording identifier rules:
// non-empty, at most MaxFileNameLen bytes, no path separators, not "." or "..".
func ValidateFileName(name string) error {
	switch {
	case name == "":
		return errors.New("file name must be non-empty")
	case len(name) > MaxFileNameLen:
		return fmt.Errorf("file name %q exceeds %d bytes", name, MaxFileNameLen)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("file name %q must not contain path separators", name)
	case name == "." || name == "..":
		return fmt.Errorf("file name %q is reserved", name)
	}
	return nil
}

// Recording is the result of a finished capture.
type Recording struct {
	// Path is the absolute path of the WAV file on the mounted volume.
	Path string `json:"path" yaml:"path"`
	// FileName is the CaptureContext file name.
	FileName string `json:"file_name" yaml:"file_name"`
	// Format is the PCM format written to the header.
	Format AudioFormat `json:"format" yaml:"format"`
	// DeclaredBytes is the data size written to the header before capture.
	DeclaredBytes int64 `json:"declared_bytes" yaml:"declared_bytes"`
	// PayloadBytes is the number of sample bytes actually appended.
	PayloadBytes int64 `json:"payload_bytes" yaml:"payload_bytes"`
	// TransientFailures counts device reads that failed and were skipped.
	TransientFailures int `json:"transient_failures" yaml:"transient_failures"`
	// Elapsed is the wall-clock duration of the recording loop.
	Elapsed time.Duration `json:"elapsed" yaml:"elapsed"`
}
