// Package blocksource exposes a sequentially readable resource as a series
// of bounded blocks for a blockwise upload.
//
// Blocks are produced strictly in order. The block index passed by the
// caller is validated against the number of blocks produced so far and is
// never used to seek: the resource cursor only moves forward.
package blocksource

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/justapithecus/earshot/iox"
)

var (
	// ErrInvalidBlockSize is returned when the caller's buffer has zero length.
	ErrInvalidBlockSize = errors.New("block size must be > 0")
	// ErrBlockOrder is returned when the requested index is not the next one.
	ErrBlockOrder = errors.New("block index out of order")
	// ErrRead wraps a failure reading the underlying resource.
	ErrRead = errors.New("resource read failed")
	// ErrEmptyBlock is returned when a call produces no bytes.
	ErrEmptyBlock = errors.New("empty block")
	// ErrFinished is returned for calls after the last block.
	ErrFinished = errors.New("block source finished")
)

// Stats summarizes what a source has produced.
type Stats struct {
	Blocks int64 `json:"blocks"`
	Bytes  int64 `json:"bytes"`
}

// File produces blocks from an open read-only resource.
// It is not safe for concurrent NextBlock calls.
type File struct {
	r      *bufio.Reader
	closer *iox.OnceCloser

	mu       sync.Mutex
	next     uint64
	finished bool
	stats    Stats
}

// New wraps rc. The source owns rc and closes it on Close.
func New(rc io.ReadCloser) *File {
	return &File{
		r:      bufio.NewReader(rc),
		closer: iox.NewOnceCloser(rc),
	}
}

// NextBlock fills buf with up to len(buf) bytes of the resource.
//
// last is true when the resource is exhausted after this block; a block
// that ends exactly at the end of data reports last=true, so no trailing
// empty block is produced. Every error is returned with last=true.
func (f *File) NextBlock(index uint64, buf []byte) (n int, last bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.finished {
		return 0, true, ErrFinished
	}
	if len(buf) == 0 {
		f.finished = true
		return 0, true, ErrInvalidBlockSize
	}
	if index != f.next {
		f.finished = true
		return 0, true, fmt.Errorf("%w: got %d, want %d", ErrBlockOrder, index, f.next)
	}

	n, err = io.ReadFull(f.r, buf)
	switch {
	case err == nil:
		// Buffer filled: peek one byte to learn whether data remains.
		if _, perr := f.r.Peek(1); perr != nil {
			if !errors.Is(perr, io.EOF) {
				f.finished = true
				return 0, true, fmt.Errorf("%w: %v", ErrRead, perr)
			}
			last = true
		}
	case errors.Is(err, io.ErrUnexpectedEOF):
		last = true
	case errors.Is(err, io.EOF):
		f.finished = true
		return 0, true, ErrEmptyBlock
	default:
		f.finished = true
		return 0, true, fmt.Errorf("%w: %v", ErrRead, err)
	}

	f.next++
	f.stats.Blocks++
	f.stats.Bytes += int64(n)
	if last {
		f.finished = true
	}
	return n, last, nil
}

// Stats returns the blocks and bytes produced so far.
func (f *File) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// Close releases the resource. Only the first call closes it.
func (f *File) Close() error {
	return f.closer.Close()
}

// Closed reports whether Close has been called.
func (f *File) Closed() bool {
	return f.closer.Closed()
}
