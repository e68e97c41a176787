// Package session tracks connectivity to the upload endpoint and gates
// blockwise uploads on it.
package session

import (
	"context"
	"sync"

	"github.com/justapithecus/earshot/types"
)

// Signal is a one-shot latch. Fire releases every current and future
// waiter; firing before anyone waits is not lost.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// NewSignal creates an unfired signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Fire releases the signal. Later calls are no-ops.
func (s *Signal) Fire() {
	s.once.Do(func() { close(s.ch) })
}

// Done returns a channel closed once the signal has fired.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

// Fired reports whether the signal has fired.
func (s *Signal) Fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the signal fires or ctx is done.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnConnected returns a Client observer that fires s on the first
// connected event.
func (s *Signal) OnConnected() func(Event) {
	return func(e Event) {
		if e.State == types.ConnectionConnected {
			s.Fire()
		}
	}
}
