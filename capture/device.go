// Package capture defines the audio input device abstraction used by the
// recording pipeline.
//
// A Device delivers raw little-endian PCM bytes in the format it was
// initialized with. Read failures are classified: ErrTransient failures are
// skipped by the recorder, ErrDeviceGone aborts the recording.
package capture

import (
	"context"
	"errors"
	"time"

	"github.com/justapithecus/earshot/types"
)

// DefaultChunkSize is the number of bytes requested per device read.
const DefaultChunkSize = 16 * 1024

// DefaultReadTimeout bounds a single device read.
const DefaultReadTimeout = time.Second

var (
	// ErrTransient marks a read failure after which reading may continue.
	ErrTransient = errors.New("transient device read failure")
	// ErrDeviceGone marks a device that can no longer deliver samples.
	ErrDeviceGone = errors.New("capture device gone")
	// ErrUnsupportedFormat is returned by Init for formats the device cannot produce.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// Device is an audio input.
type Device interface {
	// Init prepares the device to deliver samples in format f.
	Init(ctx context.Context, f types.AudioFormat) error
	// Read fills buf with up to len(buf) bytes, waiting at most timeout.
	Read(buf []byte, timeout time.Duration) (int, error)
	// Close releases the device.
	Close() error
}

// IsTransient reports whether err is a read failure the recorder may skip.
// Errors that are neither transient nor ErrDeviceGone are treated as
// transient, matching a device read that simply returned a failure code.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDeviceGone) {
		return false
	}
	return true
}
