package wav

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// Writer appends PCM samples after a header written at creation time.
// The file is opened write-only and is never read back.
type Writer struct {
	file    *os.File
	path    string
	written int64
}

// Create replaces any file at path and writes a header declaring
// declaredSize data bytes.
func Create(path string, h Header) (*Writer, error) {
	if err := h.Format.Validate(); err != nil {
		return nil, err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove existing recording: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}

	hdr := EncodeHeader(h.Format, h.DataSize)
	if _, err := f.Write(hdr[:]); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	return &Writer{file: f, path: path}, nil
}

// Append writes raw sample bytes.
func (w *Writer) Append(p []byte) error {
	n, err := w.file.Write(p)
	w.written += int64(n)
	if err != nil {
		return fmt.Errorf("append samples: %w", err)
	}
	return nil
}

// Written returns the number of sample bytes appended so far.
func (w *Writer) Written() int64 {
	return w.written
}

// Path returns the file path.
func (w *Writer) Path() string {
	return w.path
}

// Finalize patches the RIFF and data sizes with the appended length,
// syncs and closes the file.
func (w *Writer) Finalize() error {
	if w.written > math.MaxUint32-36 {
		_ = w.file.Close()
		return fmt.Errorf("payload of %d bytes exceeds wav size limit", w.written)
	}
	data := uint32(w.written)

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], 36+data)
	if _, err := w.file.WriteAt(buf[:], riffSizeOffset); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("patch riff size: %w", err)
	}
	binary.LittleEndian.PutUint32(buf[:], data)
	if _, err := w.file.WriteAt(buf[:], dataSizeOffset); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("patch data size: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("sync recording: %w", err)
	}
	return w.file.Close()
}

// Abort closes the file without patching the header.
func (w *Writer) Abort() error {
	return w.file.Close()
}
