package capture

import "testing"

func TestPutSample(t *testing.T) {
	tests := []struct {
		name     string
		s        float64
		bitDepth int
		want     []byte
	}{
		{"16 zero", 0, 16, []byte{0x00, 0x00}},
		{"16 full", 1, 16, []byte{0xFF, 0x7F}},
		{"16 negative full", -1, 16, []byte{0x01, 0x80}},
		{"16 clipped", 2, 16, []byte{0xFF, 0x7F}},
		{"8 zero", 0, 8, []byte{0x80}},
		{"24 full", 1, 24, []byte{0xFF, 0xFF, 0x7F}},
		{"32 zero", 0, 32, []byte{0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := make([]byte, 4)
			n := PutSample(b, tt.s, tt.bitDepth)
			if n != len(tt.want) {
				t.Fatalf("n = %d, want %d", n, len(tt.want))
			}
			for i := range tt.want {
				if b[i] != tt.want[i] {
					t.Errorf("b[%d] = %#x, want %#x", i, b[i], tt.want[i])
				}
			}
		})
	}
}

func TestInt16Samples(t *testing.T) {
	b := []byte{0x01, 0x00, 0xFF, 0xFF, 0x00, 0x80, 0x07}
	got := Int16Samples(b, 4)
	want := []int16{1, -1, -32768}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}
