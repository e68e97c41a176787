// Package replay implements a capture device that plays back raw PCM
// bytes from a file, for bench runs without audio hardware.
package replay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/justapithecus/earshot/capture"
	"github.com/justapithecus/earshot/types"
	"github.com/justapithecus/earshot/wav"
)

// Device replays a PCM file. A WAV input has its header skipped and its
// format checked against the requested one.
type Device struct {
	path string
	loop bool
	f    *os.File
	// start is the offset of the first sample byte.
	start int64
}

// New creates a replay device for path. With loop set, playback restarts
// at end of file; otherwise end of file is capture.ErrDeviceGone.
func New(path string, loop bool) *Device {
	return &Device{path: path, loop: loop}
}

// Init implements capture.Device.
func (d *Device) Init(_ context.Context, f types.AudioFormat) error {
	fh, err := os.Open(d.path)
	if err != nil {
		return fmt.Errorf("open replay source: %w", err)
	}

	hdr := make([]byte, wav.HeaderSize)
	if _, err := io.ReadFull(fh, hdr); err == nil && bytes.HasPrefix(hdr, []byte("RIFF")) {
		h, perr := wav.ParseHeader(hdr)
		if perr != nil {
			_ = fh.Close()
			return perr
		}
		if h.Format != f {
			_ = fh.Close()
			return fmt.Errorf("%w: source is %+v, want %+v", capture.ErrUnsupportedFormat, h.Format, f)
		}
		d.start = wav.HeaderSize
	}

	// A source without samples would loop on end of file forever.
	st, err := fh.Stat()
	if err != nil {
		_ = fh.Close()
		return fmt.Errorf("stat replay source: %w", err)
	}
	if st.Size() <= d.start {
		_ = fh.Close()
		return fmt.Errorf("replay source %s has no sample bytes", d.path)
	}

	if _, err := fh.Seek(d.start, io.SeekStart); err != nil {
		_ = fh.Close()
		return err
	}
	d.f = fh
	return nil
}

// Read implements capture.Device.
func (d *Device) Read(buf []byte, _ time.Duration) (int, error) {
	if d.f == nil {
		return 0, capture.ErrDeviceGone
	}
	n, err := d.f.Read(buf)
	if n > 0 {
		return n, nil
	}
	if errors.Is(err, io.EOF) {
		if !d.loop {
			return 0, fmt.Errorf("%w: end of replay source", capture.ErrDeviceGone)
		}
		if _, serr := d.f.Seek(d.start, io.SeekStart); serr != nil {
			return 0, fmt.Errorf("%w: %v", capture.ErrDeviceGone, serr)
		}
		return 0, fmt.Errorf("%w: rewound replay source", capture.ErrTransient)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", capture.ErrDeviceGone, err)
	}
	return 0, nil
}

// Close implements capture.Device.
func (d *Device) Close() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}
