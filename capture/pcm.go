package capture

import (
	"encoding/binary"
	"math"
)

// PutSample encodes s, a value in [-1,1], as one little-endian PCM sample
// of bitDepth bits into b and returns the number of bytes written.
// 8-bit samples are unsigned, wider samples are signed.
func PutSample(b []byte, s float64, bitDepth int) int {
	s = math.Max(-1, math.Min(1, s))
	switch bitDepth {
	case 8:
		b[0] = byte(math.Round(s*127) + 128)
		return 1
	case 16:
		binary.LittleEndian.PutUint16(b, uint16(int16(math.Round(s*math.MaxInt16))))
		return 2
	case 24:
		v := int32(math.Round(s * 8388607))
		b[0] = byte(v)
		b[1] = byte(v >> 8)
		b[2] = byte(v >> 16)
		return 3
	case 32:
		binary.LittleEndian.PutUint32(b, uint32(int32(math.Round(s*math.MaxInt32))))
		return 4
	}
	return 0
}

// Int16Samples decodes up to n leading 16-bit little-endian samples of b.
func Int16Samples(b []byte, n int) []int16 {
	out := make([]int16, 0, n)
	for i := 0; i+1 < len(b) && len(out) < n; i += 2 {
		out = append(out, int16(binary.LittleEndian.Uint16(b[i:])))
	}
	return out
}
