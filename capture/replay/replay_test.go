package replay

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/justapithecus/earshot/capture"
	"github.com/justapithecus/earshot/types"
	"github.com/justapithecus/earshot/wav"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDevice_RawOnce(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6}
	d := New(writeFile(t, "raw.pcm", data), false)
	if err := d.Init(t.Context(), types.DefaultAudioFormat()); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = d.Close() }()

	buf := make([]byte, 4)
	var got []byte
	for {
		n, err := d.Read(buf, 0)
		if err != nil {
			if !errors.Is(err, capture.ErrDeviceGone) {
				t.Fatalf("err = %v, want ErrDeviceGone", err)
			}
			break
		}
		got = append(got, buf[:n]...)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("got %v, want %v", got, data)
	}
}

func TestDevice_Loop(t *testing.T) {
	d := New(writeFile(t, "raw.pcm", []byte{9, 8}), true)
	if err := d.Init(t.Context(), types.DefaultAudioFormat()); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = d.Close() }()

	buf := make([]byte, 2)
	if n, err := d.Read(buf, 0); err != nil || n != 2 {
		t.Fatalf("first read: n=%d err=%v", n, err)
	}
	if _, err := d.Read(buf, 0); !errors.Is(err, capture.ErrTransient) {
		t.Fatalf("rewind read: err = %v, want ErrTransient", err)
	}
	if n, err := d.Read(buf, 0); err != nil || n != 2 || buf[0] != 9 {
		t.Fatalf("after rewind: n=%d err=%v buf=%v", n, err, buf)
	}
}

func TestDevice_WavSource(t *testing.T) {
	f := types.DefaultAudioFormat()
	hdr := wav.EncodeHeader(f, 4)
	path := writeFile(t, "src.wav", append(hdr[:], 1, 2, 3, 4))

	d := New(path, false)
	if err := d.Init(t.Context(), f); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = d.Close() }()

	buf := make([]byte, 16)
	n, err := d.Read(buf, 0)
	if err != nil || n != 4 || buf[0] != 1 {
		t.Errorf("n=%d err=%v buf=%v, want samples after header", n, err, buf[:n])
	}
}

func TestDevice_WavFormatMismatch(t *testing.T) {
	hdr := wav.EncodeHeader(types.AudioFormat{SampleRate: 8000, BitDepth: 16, Channels: 1}, 0)
	d := New(writeFile(t, "src.wav", hdr[:]), false)
	if err := d.Init(t.Context(), types.DefaultAudioFormat()); !errors.Is(err, capture.ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestDevice_Missing(t *testing.T) {
	d := New(filepath.Join(t.TempDir(), "missing.pcm"), false)
	if err := d.Init(t.Context(), types.DefaultAudioFormat()); err == nil {
		t.Fatal("expected error")
	}
}

func TestDevice_NoSamplesRejected(t *testing.T) {
	f := types.DefaultAudioFormat()
	hdr := wav.EncodeHeader(f, 0)
	tests := []struct {
		name string
		data []byte
	}{
		{"empty raw", nil},
		{"header only", hdr[:]},
	}
	for _, tt := range tests {
		for _, loop := range []bool{false, true} {
			d := New(writeFile(t, "src.wav", tt.data), loop)
			err := d.Init(t.Context(), f)
			if err == nil || !strings.Contains(err.Error(), "no sample bytes") {
				t.Errorf("%s loop=%v: Init() error = %v, want no sample bytes", tt.name, loop, err)
			}
			if _, err := d.Read(make([]byte, 4), 0); !errors.Is(err, capture.ErrDeviceGone) {
				t.Errorf("%s loop=%v: Read() after failed Init error = %v, want ErrDeviceGone", tt.name, loop, err)
			}
		}
	}
}
