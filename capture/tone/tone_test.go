package tone

import (
	"errors"
	"math"
	"testing"

	"github.com/justapithecus/earshot/capture"
	"github.com/justapithecus/earshot/types"
)

func TestDevice_Read(t *testing.T) {
	d := New(Config{GainDB: DefaultGainDB})
	if err := d.Init(t.Context(), types.DefaultAudioFormat()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	buf := make([]byte, 1001)
	n, err := d.Read(buf, capture.DefaultReadTimeout)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if n != 1000 {
		t.Errorf("n = %d, want 1000 (whole frames only)", n)
	}

	var peak int16
	for _, s := range capture.Int16Samples(buf[:n], n/2) {
		if s < 0 {
			s = -s
		}
		peak = max(peak, s)
	}
	want := d.Amplitude() * math.MaxInt16
	if math.Abs(float64(peak)-want) > want*0.05 {
		t.Errorf("peak = %d, want ~%.0f", peak, want)
	}
}

func TestDevice_Deterministic(t *testing.T) {
	read := func() []byte {
		d := New(Config{})
		if err := d.Init(t.Context(), types.DefaultAudioFormat()); err != nil {
			t.Fatal(err)
		}
		buf := make([]byte, 256)
		if _, err := d.Read(buf, 0); err != nil {
			t.Fatal(err)
		}
		return buf
	}
	a, b := read(), read()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("byte %d differs", i)
		}
	}
}

func TestDevice_Gain(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want float64
	}{
		{"no gain", Config{Level: 0.1}, 0.1},
		{"20 dB", Config{Level: 0.01, GainDB: 20}, 0.1},
		{"clipped", Config{Level: 0.5, GainDB: 20}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.cfg).Amplitude()
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Amplitude() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDevice_FailEvery(t *testing.T) {
	d := New(Config{FailEvery: 3})
	if err := d.Init(t.Context(), types.DefaultAudioFormat()); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 64)
	for i := 1; i <= 6; i++ {
		_, err := d.Read(buf, 0)
		wantFail := i%3 == 0
		if wantFail != errors.Is(err, capture.ErrTransient) {
			t.Errorf("read %d: err = %v, wantFail = %v", i, err, wantFail)
		}
	}
}

func TestDevice_ReadBeforeInit(t *testing.T) {
	d := New(Config{})
	if _, err := d.Read(make([]byte, 8), 0); !errors.Is(err, capture.ErrDeviceGone) {
		t.Errorf("err = %v, want ErrDeviceGone", err)
	}
}

func TestDevice_InitRejectsFormat(t *testing.T) {
	d := New(Config{})
	err := d.Init(t.Context(), types.AudioFormat{SampleRate: 16000, BitDepth: 12, Channels: 1})
	if !errors.Is(err, capture.ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}
