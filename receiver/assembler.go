// Package receiver accepts blockwise uploads and persists completed objects.
//
// Blocks arrive over framed TCP (package wire) or HTTP PUT. Per upload the
// block index must start at 0 and increase by 1; blocks after the last one
// are rejected and objects larger than the configured maximum are dropped.
package receiver

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultMaxObjectSize is the default upper bound on one object (64 MiB).
const DefaultMaxObjectSize = 64 * 1024 * 1024

// ReleaseGrace is how long a persisted upload is remembered so that a
// retransmitted last block is still answered as a duplicate.
const ReleaseGrace = 2 * time.Minute

// Block validation errors. All of them end the upload except ErrDuplicate.
var (
	// ErrBlockOrder indicates an index other than the expected next one.
	ErrBlockOrder = errors.New("block out of order")
	// ErrAfterLast indicates a block past the last block of an object.
	ErrAfterLast = errors.New("block after last")
	// ErrTooLarge indicates the object exceeds the maximum size.
	ErrTooLarge = errors.New("object too large")
	// ErrBlockSize indicates a block larger than its declared block size.
	ErrBlockSize = errors.New("block exceeds block size")
	// ErrEmptyBlock indicates a block without data.
	ErrEmptyBlock = errors.New("empty block")
	// ErrDuplicate indicates a retransmission of the most recent block.
	// The block is already applied and the sender may proceed.
	ErrDuplicate = errors.New("duplicate block")
)

// Key identifies one upload.
type Key struct {
	DeviceID string
	Resource string
}

func (k Key) String() string { return k.DeviceID + "/" + k.Resource }

// Block is one received block.
type Block struct {
	Index       uint64
	BlockSize   int
	ContentType string
	Data        []byte
	Last        bool
}

// Object is a fully assembled upload.
type Object struct {
	Key         Key
	ContentType string
	Data        []byte
	Blocks      uint64
	Started     time.Time
}

type assembly struct {
	next        uint64
	lastSize    int
	contentType string
	buf         bytes.Buffer
	complete    bool
	released    bool
	releasedAt  time.Time
	started     time.Time
}

// Assembler accumulates blocks per upload. Safe for concurrent use.
type Assembler struct {
	mu      sync.Mutex
	uploads map[Key]*assembly
	maxSize int64
	now     func() time.Time
}

// NewAssembler creates an assembler. maxSize <= 0 uses DefaultMaxObjectSize.
func NewAssembler(maxSize int64) *Assembler {
	if maxSize <= 0 {
		maxSize = DefaultMaxObjectSize
	}
	return &Assembler{
		uploads: make(map[Key]*assembly),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Add applies b to the upload identified by key.
// Returns the assembled object when b is the last block.
//
// Index 0 always starts a fresh upload, replacing any previous state for key.
// A retransmission of the most recent block returns ErrDuplicate.
// Every other error discards the upload.
func (a *Assembler) Add(key Key, b Block) (*Object, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.evictReleased()

	if len(b.Data) == 0 {
		delete(a.uploads, key)
		return nil, fmt.Errorf("%s block %d: %w", key, b.Index, ErrEmptyBlock)
	}
	if b.BlockSize > 0 && len(b.Data) > b.BlockSize {
		delete(a.uploads, key)
		return nil, fmt.Errorf("%s block %d: %d bytes > %d: %w", key, b.Index, len(b.Data), b.BlockSize, ErrBlockSize)
	}

	asm, exists := a.uploads[key]
	if b.Index == 0 {
		asm = &assembly{contentType: b.ContentType, started: a.now()}
		a.uploads[key] = asm
	} else {
		if !exists {
			return nil, fmt.Errorf("%s: block %d without block 0: %w", key, b.Index, ErrBlockOrder)
		}
		if b.Index+1 == asm.next && len(b.Data) == asm.lastSize {
			return nil, fmt.Errorf("%s block %d: %w", key, b.Index, ErrDuplicate)
		}
		if asm.complete {
			delete(a.uploads, key)
			return nil, fmt.Errorf("%s block %d: %w", key, b.Index, ErrAfterLast)
		}
		if b.Index != asm.next {
			delete(a.uploads, key)
			return nil, fmt.Errorf("%s: expected block %d, got %d: %w", key, asm.next, b.Index, ErrBlockOrder)
		}
	}

	total := int64(asm.buf.Len()) + int64(len(b.Data))
	if total > a.maxSize {
		delete(a.uploads, key)
		return nil, fmt.Errorf("%s: %d bytes exceeds %d: %w", key, total, a.maxSize, ErrTooLarge)
	}

	asm.buf.Write(b.Data)
	asm.next++
	asm.lastSize = len(b.Data)

	if !b.Last {
		return nil, nil
	}
	asm.complete = true
	return &Object{
		Key:         key,
		ContentType: asm.contentType,
		Data:        bytes.Clone(asm.buf.Bytes()),
		Blocks:      asm.next,
		Started:     asm.started,
	}, nil
}

// Rollback reverts the most recent block of key so that a retransmission is
// applied again. Used when persisting a completed object fails.
func (a *Assembler) Rollback(key Key) {
	a.mu.Lock()
	defer a.mu.Unlock()

	asm, ok := a.uploads[key]
	if !ok || asm.next == 0 || asm.released {
		return
	}
	asm.buf.Truncate(asm.buf.Len() - asm.lastSize)
	asm.next--
	asm.lastSize = 0
	asm.complete = false
	if asm.next == 0 {
		delete(a.uploads, key)
	}
}

// Release frees the buffered data of a completed upload once it has been
// persisted. The upload stays known for ReleaseGrace so a retransmitted last
// block is still recognized as a duplicate; after that it is evicted.
func (a *Assembler) Release(key Key) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if asm, ok := a.uploads[key]; ok && asm.complete {
		asm.buf = bytes.Buffer{}
		asm.released = true
		asm.releasedAt = a.now()
	}
	a.evictReleased()
}

// evictReleased drops released uploads older than ReleaseGrace.
// Must be called with a.mu held.
func (a *Assembler) evictReleased() {
	cutoff := a.now().Add(-ReleaseGrace)
	for key, asm := range a.uploads {
		if asm.released && asm.releasedAt.Before(cutoff) {
			delete(a.uploads, key)
		}
	}
}

// Tracked returns the number of uploads held, including released ones
// still inside their grace period.
func (a *Assembler) Tracked() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.uploads)
}

// Discard drops any state for key. Returns true if an incomplete upload was dropped.
func (a *Assembler) Discard(key Key) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	asm, ok := a.uploads[key]
	if !ok {
		return false
	}
	delete(a.uploads, key)
	return !asm.complete
}

// Pending returns the number of incomplete uploads.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, asm := range a.uploads {
		if !asm.complete {
			n++
		}
	}
	return n
}

// IsFatal reports whether err ends the upload it was returned for.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrDuplicate)
}
