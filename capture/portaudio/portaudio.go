// Package portaudio implements a capture device on the host's default
// input through PortAudio. Only 16-bit PCM is supported.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/justapithecus/earshot/capture"
	"github.com/justapithecus/earshot/types"
)

// DefaultFramesPerBuffer is the PortAudio buffer size in frames.
const DefaultFramesPerBuffer = 1024

// Device reads from the default PortAudio input stream.
type Device struct {
	framesPerBuffer int

	mu       sync.Mutex
	stream   *portaudio.Stream
	buffer   []int16
	pending  []byte
	channels int
}

// New creates a device. framesPerBuffer <= 0 takes the default.
func New(framesPerBuffer int) *Device {
	if framesPerBuffer <= 0 {
		framesPerBuffer = DefaultFramesPerBuffer
	}
	return &Device{framesPerBuffer: framesPerBuffer}
}

// Init implements capture.Device. It initializes PortAudio and starts the
// input stream.
func (d *Device) Init(_ context.Context, f types.AudioFormat) error {
	if f.BitDepth != 16 {
		return fmt.Errorf("%w: portaudio device supports 16-bit only, got %d", capture.ErrUnsupportedFormat, f.BitDepth)
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}

	buffer := make([]int16, d.framesPerBuffer*f.Channels)
	stream, err := portaudio.OpenDefaultStream(f.Channels, 0, float64(f.SampleRate), d.framesPerBuffer, buffer)
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("start input stream: %w", err)
	}

	d.mu.Lock()
	d.stream = stream
	d.buffer = buffer
	d.channels = f.Channels
	d.mu.Unlock()
	return nil
}

// Read implements capture.Device. Samples left over from a PortAudio
// buffer larger than buf are returned by the next call. The timeout is
// not enforced: PortAudio blocking reads return once per buffer.
func (d *Device) Read(buf []byte, _ time.Duration) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream == nil {
		return 0, capture.ErrDeviceGone
	}

	if len(d.pending) == 0 {
		if err := d.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				return 0, fmt.Errorf("%w: %v", capture.ErrTransient, err)
			}
			return 0, fmt.Errorf("%w: %v", capture.ErrDeviceGone, err)
		}
		d.pending = int16SliceToByteSlice(d.buffer)
	}

	n := copy(buf, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

// Close implements capture.Device. It stops the stream and terminates PortAudio.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream == nil {
		return nil
	}
	var err error
	if stopErr := d.stream.Stop(); stopErr != nil {
		err = stopErr
	}
	if closeErr := d.stream.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if termErr := portaudio.Terminate(); termErr != nil && err == nil {
		err = termErr
	}
	d.stream = nil
	d.pending = nil
	return err
}

// int16SliceToByteSlice converts samples to little-endian bytes.
func int16SliceToByteSlice(in []int16) []byte {
	out := make([]byte, len(in)*2)
	for i, v := range in {
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}
