// Package transfer implements the blockwise upload engine.
//
// A Driver pulls blocks from a Source with indices 0,1,2,... and hands each
// produced block to a Stream opened on a Sender. The upload ends with a
// commit after the block marked last, or with an abort on the first fatal
// error from either side. Block sources are never retried: a failed read
// ends the upload.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/earshot/log"
	"github.com/justapithecus/earshot/metrics"
)

// DefaultBlockSize is the block size used when none is configured.
const DefaultBlockSize = 4096

var (
	// ErrSource wraps a failure reported by the block source.
	ErrSource = errors.New("block source failed")
	// ErrSend wraps a failure reported by the transport.
	ErrSend = errors.New("block send failed")
	// ErrCommit wraps a failure finishing the upload.
	ErrCommit = errors.New("upload commit failed")
)

// Source produces blocks sequentially. index must equal the number of
// blocks already produced. Any error is fatal for the upload.
type Source interface {
	NextBlock(index uint64, buf []byte) (n int, last bool, err error)
}

// Sender is a transport capable of blockwise uploads.
type Sender interface {
	// Probe checks that the endpoint is reachable.
	Probe(ctx context.Context) error
	// Begin opens an upload of resource.
	Begin(ctx context.Context, resource, contentType string, blockSize int) (Stream, error)
}

// Stream is one open upload.
type Stream interface {
	// SendBlock delivers block index. last marks the final block.
	SendBlock(ctx context.Context, index uint64, data []byte, last bool) error
	// Commit finishes the upload after the last block.
	Commit(ctx context.Context) error
	// Abort discards the upload. Best effort.
	Abort(ctx context.Context) error
}

// Result describes a finished upload.
type Result struct {
	Resource string        `json:"resource" yaml:"resource"`
	Blocks   int64         `json:"blocks" yaml:"blocks"`
	Bytes    int64         `json:"bytes" yaml:"bytes"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Driver runs blockwise uploads over a Sender.
type Driver struct {
	// Sender is the transport. Required.
	Sender Sender
	// BlockSize is the maximum block size (default DefaultBlockSize).
	BlockSize int
	// Logger receives per-block debug logs. If nil, logging is discarded.
	Logger *log.Logger
	// Collector records block counters. Nil-safe.
	Collector *metrics.Collector
}

func (d *Driver) blockSize() int {
	if d.BlockSize <= 0 {
		return DefaultBlockSize
	}
	return d.BlockSize
}

// Upload streams src to resource. It returns when the upload has been
// committed or has failed; the source is not closed.
func (d *Driver) Upload(ctx context.Context, resource, contentType string, src Source) (Result, error) {
	logger := d.Logger
	if logger == nil {
		logger = log.Discard()
	}
	start := time.Now()
	res := Result{Resource: resource}
	size := d.blockSize()

	stream, err := d.Sender.Begin(ctx, resource, contentType, size)
	if err != nil {
		d.Collector.IncUploadFailure()
		return res, fmt.Errorf("%w: begin: %w", ErrSend, err)
	}

	fail := func(err error) (Result, error) {
		if abortErr := stream.Abort(context.WithoutCancel(ctx)); abortErr != nil {
			logger.Warn("abort failed", map[string]any{"resource": resource, "error": abortErr.Error()})
		}
		d.Collector.IncUploadFailure()
		res.Duration = time.Since(start)
		return res, err
	}

	buf := make([]byte, size)
	for index := uint64(0); ; index++ {
		if err := ctx.Err(); err != nil {
			return fail(fmt.Errorf("%w: %w", ErrSend, err))
		}

		n, last, err := src.NextBlock(index, buf)
		if err != nil {
			return fail(fmt.Errorf("%w: block %d: %w", ErrSource, index, err))
		}

		if err := stream.SendBlock(ctx, index, buf[:n], last); err != nil {
			return fail(fmt.Errorf("%w: block %d: %w", ErrSend, index, err))
		}
		res.Blocks++
		res.Bytes += int64(n)
		d.Collector.IncBlockSent(n)
		logger.Debug("block sent", map[string]any{"index": index, "size": n, "last": last})

		if last {
			break
		}
	}

	if err := stream.Commit(ctx); err != nil {
		return fail(fmt.Errorf("%w: %w", ErrCommit, err))
	}
	d.Collector.IncUploadSuccess()
	res.Duration = time.Since(start)
	return res, nil
}
