// Package wav writes and inspects canonical 44-byte-header PCM WAV files.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/justapithecus/earshot/types"
)

// HeaderSize is the size of a canonical RIFF/WAVE PCM header.
const HeaderSize = 44

// Offsets of the size fields patched at finalize.
const (
	riffSizeOffset = 4
	dataSizeOffset = 40
)

const formatPCM = 1

// ErrInvalidHeader is returned by ParseHeader for non-canonical headers.
var ErrInvalidHeader = errors.New("invalid wav header")

// Header is the decoded content of a canonical header.
type Header struct {
	Format   types.AudioFormat
	DataSize uint32
}

// EncodeHeader builds the 44-byte header for dataSize bytes of PCM samples.
func EncodeHeader(f types.AudioFormat, dataSize uint32) [HeaderSize]byte {
	var h [HeaderSize]byte
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], 36+dataSize)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], formatPCM)
	binary.LittleEndian.PutUint16(h[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(f.ByteRate()))
	binary.LittleEndian.PutUint16(h[32:34], uint16(f.BlockAlign()))
	binary.LittleEndian.PutUint16(h[34:36], uint16(f.BitDepth))
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataSize)
	return h
}

// ParseHeader decodes a canonical header.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrInvalidHeader, len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" ||
		string(b[12:16]) != "fmt " || string(b[36:40]) != "data" {
		return Header{}, fmt.Errorf("%w: missing chunk markers", ErrInvalidHeader)
	}
	if binary.LittleEndian.Uint16(b[20:22]) != formatPCM {
		return Header{}, fmt.Errorf("%w: not PCM", ErrInvalidHeader)
	}
	return Header{
		Format: types.AudioFormat{
			Channels:   int(binary.LittleEndian.Uint16(b[22:24])),
			SampleRate: int(binary.LittleEndian.Uint32(b[24:28])),
			BitDepth:   int(binary.LittleEndian.Uint16(b[34:36])),
		},
		DataSize: binary.LittleEndian.Uint32(b[40:44]),
	}, nil
}
