// Package tone implements a deterministic sine-wave capture device.
//
// It stands in for a codec-attached microphone: a low input level is
// amplified by a configurable gain in dB, like the codec's input gain.
package tone

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/justapithecus/earshot/capture"
	"github.com/justapithecus/earshot/types"
)

// Defaults mirror a speech-level signal through a 42 dB input stage.
const (
	DefaultFrequency = 440.0
	DefaultLevel     = 0.002
	DefaultGainDB    = 42.0
)

// Config configures the generator.
type Config struct {
	// Frequency of the sine in Hz.
	Frequency float64
	// Level is the pre-gain amplitude in [0,1].
	Level float64
	// GainDB is applied to Level; the result is clipped to full scale.
	GainDB float64
	// FailEvery makes every Nth read fail with capture.ErrTransient (0 = never).
	FailEvery int
	// Paced makes reads take as long as the audio they return.
	Paced bool
}

// Device generates samples on demand.
type Device struct {
	cfg    Config
	format types.AudioFormat
	amp    float64
	frame  int64
	reads  int
	ready  bool
	closed bool
}

// New creates a tone device. Zero Frequency and Level take defaults.
func New(cfg Config) *Device {
	if cfg.Frequency == 0 {
		cfg.Frequency = DefaultFrequency
	}
	if cfg.Level == 0 {
		cfg.Level = DefaultLevel
	}
	return &Device{cfg: cfg}
}

// Amplitude returns the post-gain amplitude in [0,1].
func (d *Device) Amplitude() float64 {
	return math.Min(1, d.cfg.Level*math.Pow(10, d.cfg.GainDB/20))
}

// Init implements capture.Device.
func (d *Device) Init(_ context.Context, f types.AudioFormat) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("%w: %v", capture.ErrUnsupportedFormat, err)
	}
	d.format = f
	d.amp = d.Amplitude()
	d.ready = true
	return nil
}

// Read implements capture.Device. Only whole frames are produced.
func (d *Device) Read(buf []byte, _ time.Duration) (int, error) {
	if d.closed || !d.ready {
		return 0, capture.ErrDeviceGone
	}
	d.reads++
	if d.cfg.FailEvery > 0 && d.reads%d.cfg.FailEvery == 0 {
		return 0, fmt.Errorf("%w: injected failure on read %d", capture.ErrTransient, d.reads)
	}

	align := d.format.BlockAlign()
	frames := len(buf) / align
	width := d.format.BitDepth / 8
	step := 2 * math.Pi * d.cfg.Frequency / float64(d.format.SampleRate)

	off := 0
	for i := 0; i < frames; i++ {
		s := d.amp * math.Sin(step*float64(d.frame))
		for ch := 0; ch < d.format.Channels; ch++ {
			capture.PutSample(buf[off:off+width], s, d.format.BitDepth)
			off += width
		}
		d.frame++
	}

	if d.cfg.Paced && frames > 0 {
		time.Sleep(time.Duration(frames) * time.Second / time.Duration(d.format.SampleRate))
	}
	return off, nil
}

// Close implements capture.Device.
func (d *Device) Close() error {
	d.closed = true
	return nil
}
