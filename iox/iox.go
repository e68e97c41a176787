// Package iox provides I/O helpers for resource cleanup.
package iox

import (
	"io"
	"sync"
	"sync/atomic"
)

// DiscardClose closes c and discards the error.
// Use in defer statements where close errors are unactionable:
//
//	defer iox.DiscardClose(f)
func DiscardClose(c io.Closer) { _ = c.Close() }

// DiscardErr calls fn and discards the returned error.
//
//	defer iox.DiscardErr(f.Sync)
func DiscardErr(fn func() error) { _ = fn() }

// OnceCloser closes the wrapped closer at most once.
// The first Close returns the underlying error; later calls return nil.
type OnceCloser struct {
	c      io.Closer
	once   sync.Once
	closed atomic.Bool
}

// NewOnceCloser wraps c.
func NewOnceCloser(c io.Closer) *OnceCloser {
	return &OnceCloser{c: c}
}

// Close implements io.Closer.
func (o *OnceCloser) Close() error {
	var err error
	o.once.Do(func() {
		err = o.c.Close()
		o.closed.Store(true)
	})
	return err
}

// Closed reports whether the underlying closer has been closed.
func (o *OnceCloser) Closed() bool {
	return o.closed.Load()
}
