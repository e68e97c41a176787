package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/justapithecus/earshot/iox"
	"github.com/justapithecus/earshot/log"
	"github.com/justapithecus/earshot/types"
	"github.com/justapithecus/earshot/wire"
)

// DefaultIdleTimeout closes framed connections that send nothing for this long.
const DefaultIdleTimeout = 60 * time.Second

// FramedServer accepts framed TCP uploads.
type FramedServer struct {
	recv        *Receiver
	logger      *log.Logger
	idleTimeout time.Duration

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewFramedServer creates a framed front end for r.
// idleTimeout <= 0 uses DefaultIdleTimeout.
func NewFramedServer(r *Receiver, idleTimeout time.Duration) *FramedServer {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &FramedServer{
		recv:        r,
		logger:      r.logger.Named("framed"),
		idleTimeout: idleTimeout,
		conns:       make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections on ln until ctx is cancelled, then closes the
// listener and every open connection and waits for their handlers.
// Returns nil on cancellation.
func (s *FramedServer) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		iox.DiscardClose(ln)
		s.closeAll()
	})
	defer stop()

	s.logger.Info("framed receiver listening", map[string]any{"addr": ln.Addr().String()})

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			s.closeAll()
			s.wg.Wait()
			return fmt.Errorf("framed accept: %w", err)
		}

		s.track(nc)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(nc)
			s.handle(ctx, nc)
		}()
	}
}

func (s *FramedServer) track(nc net.Conn) {
	s.mu.Lock()
	s.conns[nc] = struct{}{}
	s.mu.Unlock()
}

func (s *FramedServer) untrack(nc net.Conn) {
	s.mu.Lock()
	delete(s.conns, nc)
	s.mu.Unlock()
	iox.DiscardClose(nc)
}

func (s *FramedServer) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for nc := range s.conns {
		iox.DiscardClose(nc)
	}
}

// handle runs one connection: a hello exchange followed by block frames.
// An upload still incomplete when the connection ends is discarded.
func (s *FramedServer) handle(ctx context.Context, nc net.Conn) {
	dec := wire.NewFrameDecoder(nc)
	enc := wire.NewFrameEncoder(nc)
	remote := nc.RemoteAddr().String()

	frame, err := s.next(nc, dec)
	if err != nil {
		s.logger.Warn("framed handshake failed", map[string]any{"remote": remote, "error": err.Error()})
		return
	}
	hello, ok := frame.(*types.HelloFrame)
	if !ok {
		_ = enc.WriteFrame(nack("", 0, errors.New("expected hello frame")))
		return
	}
	if hello.Version != types.WireVersion {
		_ = enc.WriteFrame(nack("", 0, fmt.Errorf("unsupported wire version %d", hello.Version)))
		return
	}
	if err := enc.WriteFrame(&types.AckFrame{Type: types.FrameTypeAck, OK: true}); err != nil {
		return
	}

	var open *Key
	defer func() {
		if open != nil {
			s.recv.Abort(*open)
		}
	}()

	for {
		frame, err := s.next(nc, dec)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("framed read failed", map[string]any{"remote": remote, "error": err.Error()})
			}
			if !wire.IsFatalFrameError(err) {
				_ = enc.WriteFrame(nack("", 0, err))
			}
			return
		}

		bf, ok := frame.(*types.BlockFrame)
		if !ok {
			_ = enc.WriteFrame(nack("", 0, fmt.Errorf("unexpected %T", frame)))
			return
		}

		key := Key{DeviceID: hello.DeviceID, Resource: bf.Resource}
		_, err = s.recv.Accept(ctx, key, Block{
			Index:       bf.Index,
			BlockSize:   bf.BlockSize,
			ContentType: bf.ContentType,
			Data:        bf.Data,
			Last:        bf.IsLast,
		})
		switch {
		case err != nil:
			s.recv.Abort(key)
			open = nil
			if werr := enc.WriteFrame(nack(bf.Resource, bf.Index, err)); werr != nil {
				return
			}
			continue
		case bf.IsLast:
			open = nil
		default:
			open = &key
		}

		ack := &types.AckFrame{Type: types.FrameTypeAck, Resource: bf.Resource, Index: bf.Index, OK: true}
		if err := enc.WriteFrame(ack); err != nil {
			return
		}
	}
}

// next reads and decodes one frame under the idle deadline.
func (s *FramedServer) next(nc net.Conn, dec *wire.FrameDecoder) (any, error) {
	if err := nc.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
		return nil, err
	}
	payload, err := dec.ReadFrame()
	if err != nil {
		return nil, err
	}
	return wire.DecodeFrame(payload)
}

func nack(resource string, index uint64, err error) *types.AckFrame {
	return &types.AckFrame{
		Type:     types.FrameTypeAck,
		Resource: resource,
		Index:    index,
		OK:       false,
		Error:    err.Error(),
	}
}
