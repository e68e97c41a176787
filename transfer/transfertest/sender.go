// Package transfertest provides an in-memory transfer.Sender for tests.
package transfertest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/justapithecus/earshot/transfer"
)

// ErrInjected is returned by sends configured to fail.
var ErrInjected = errors.New("injected send failure")

// Sender records uploads in memory.
type Sender struct {
	// ProbeErr is returned by Probe.
	ProbeErr error
	// FailAtIndex makes SendBlock fail for that block index (-1 = never).
	FailAtIndex int64

	mu      sync.Mutex
	probes  int
	uploads []*Upload
}

// Upload is one recorded upload.
type Upload struct {
	Resource    string
	ContentType string
	BlockSize   int
	Indices     []uint64
	Data        bytes.Buffer
	LastSeen    bool
	Committed   bool
	Aborted     bool
}

// NewSender creates a sender that never fails.
func NewSender() *Sender {
	return &Sender{FailAtIndex: -1}
}

// Probe implements transfer.Sender.
func (s *Sender) Probe(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes++
	return s.ProbeErr
}

// SetProbeErr changes the probe result.
func (s *Sender) SetProbeErr(err error) {
	s.mu.Lock()
	s.ProbeErr = err
	s.mu.Unlock()
}

// Probes returns the number of Probe calls.
func (s *Sender) Probes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probes
}

// Uploads returns the recorded uploads.
func (s *Sender) Uploads() []*Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Upload(nil), s.uploads...)
}

// Begin implements transfer.Sender.
func (s *Sender) Begin(_ context.Context, resource, contentType string, blockSize int) (transfer.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &Upload{Resource: resource, ContentType: contentType, BlockSize: blockSize}
	s.uploads = append(s.uploads, u)
	return &stream{s: s, u: u}, nil
}

type stream struct {
	s *Sender
	u *Upload
}

func (st *stream) SendBlock(_ context.Context, index uint64, data []byte, last bool) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if st.s.FailAtIndex >= 0 && uint64(st.s.FailAtIndex) == index {
		return fmt.Errorf("%w at block %d", ErrInjected, index)
	}
	st.u.Indices = append(st.u.Indices, index)
	st.u.Data.Write(data)
	st.u.LastSeen = last
	return nil
}

func (st *stream) Commit(context.Context) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	st.u.Committed = true
	return nil
}

func (st *stream) Abort(context.Context) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	st.u.Aborted = true
	return nil
}
