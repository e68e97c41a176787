package portaudio

import (
	"errors"
	"testing"

	"github.com/justapithecus/earshot/capture"
	"github.com/justapithecus/earshot/types"
)

func TestInt16SliceToByteSlice(t *testing.T) {
	got := int16SliceToByteSlice([]int16{1, -1, 0x1234})
	want := []byte{0x01, 0x00, 0xFF, 0xFF, 0x34, 0x12}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestInitRejects24Bit(t *testing.T) {
	d := New(0)
	err := d.Init(t.Context(), types.AudioFormat{SampleRate: 16000, BitDepth: 24, Channels: 1})
	if !errors.Is(err, capture.ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestReadWithoutInit(t *testing.T) {
	d := New(256)
	if _, err := d.Read(make([]byte, 16), 0); !errors.Is(err, capture.ErrDeviceGone) {
		t.Errorf("err = %v, want ErrDeviceGone", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close() on unopened device = %v", err)
	}
}
