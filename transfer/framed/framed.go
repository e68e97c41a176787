// Package framed implements a blockwise upload transport over TCP using
// length-prefixed msgpack frames (package wire).
//
// A connection opens with a hello frame answered by an ack. Each block
// frame is then answered by an ack echoing its index; a negative ack
// ends the upload.
package framed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/justapithecus/earshot/iox"
	"github.com/justapithecus/earshot/transfer"
	"github.com/justapithecus/earshot/types"
	"github.com/justapithecus/earshot/wire"
)

// DefaultDialTimeout bounds connection setup.
const DefaultDialTimeout = 5 * time.Second

// DefaultAckTimeout bounds the wait for each ack.
const DefaultAckTimeout = 10 * time.Second

// ErrRejected is returned when the receiver answers with a negative ack.
var ErrRejected = errors.New("block rejected by receiver")

// Config configures the sender.
type Config struct {
	// Addr is the receiver host:port (required).
	Addr string
	// DeviceID is announced in the hello frame.
	DeviceID string
	// DialTimeout bounds connection setup (default 5s).
	DialTimeout time.Duration
	// AckTimeout bounds the wait for each ack (default 10s).
	AckTimeout time.Duration
}

// Sender uploads over framed TCP connections, one per upload.
type Sender struct {
	config Config
}

// New creates a sender from cfg.
func New(cfg Config) (*Sender, error) {
	if cfg.Addr == "" {
		return nil, errors.New("framed sender requires an address")
	}
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		return nil, fmt.Errorf("framed: invalid address: %w", err)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	return &Sender{config: cfg}, nil
}

// Probe dials the receiver and completes a hello exchange.
func (s *Sender) Probe(ctx context.Context) error {
	c, err := s.open(ctx)
	if err != nil {
		return err
	}
	return c.conn.Close()
}

// Begin implements transfer.Sender.
func (s *Sender) Begin(ctx context.Context, resource, contentType string, blockSize int) (transfer.Stream, error) {
	if blockSize > wire.MaxBlockSize {
		return nil, fmt.Errorf("framed: block size %d exceeds %d", blockSize, wire.MaxBlockSize)
	}
	c, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	c.resource = resource
	c.contentType = contentType
	c.blockSize = blockSize
	return c, nil
}

func (s *Sender) open(ctx context.Context) (*conn, error) {
	dialer := net.Dialer{Timeout: s.config.DialTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", s.config.Addr)
	if err != nil {
		return nil, fmt.Errorf("framed: dial: %w", err)
	}
	c := &conn{
		conn:       nc,
		enc:        wire.NewFrameEncoder(nc),
		dec:        wire.NewFrameDecoder(nc),
		ackTimeout: s.config.AckTimeout,
	}

	hello := &types.HelloFrame{Type: types.FrameTypeHello, Version: types.WireVersion, DeviceID: s.config.DeviceID}
	if err := c.exchange(ctx, hello, 0); err != nil {
		iox.DiscardClose(nc)
		return nil, fmt.Errorf("framed: hello: %w", err)
	}
	return c, nil
}

type conn struct {
	conn       net.Conn
	enc        *wire.FrameEncoder
	dec        *wire.FrameDecoder
	ackTimeout time.Duration

	resource    string
	contentType string
	blockSize   int
}

// exchange writes frame and waits for an ack carrying index.
func (c *conn) exchange(ctx context.Context, frame any, index uint64) error {
	deadline := time.Now().Add(c.ackTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := c.enc.WriteFrame(frame); err != nil {
		return err
	}
	payload, err := c.dec.ReadFrame()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	ack, err := wire.DecodeAck(payload)
	if err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("%w: %s", ErrRejected, ack.Error)
	}
	if ack.Index != index {
		return fmt.Errorf("ack for block %d, want %d", ack.Index, index)
	}
	return nil
}

func (c *conn) SendBlock(ctx context.Context, index uint64, data []byte, last bool) error {
	frame := &types.BlockFrame{
		Type:        types.FrameTypeBlock,
		Resource:    c.resource,
		ContentType: c.contentType,
		Index:       index,
		BlockSize:   c.blockSize,
		IsLast:      last,
		Data:        data,
	}
	return c.exchange(ctx, frame, index)
}

// Commit closes the connection; the acked last block completed the object.
func (c *conn) Commit(context.Context) error {
	return c.conn.Close()
}

// Abort closes the connection. The receiver discards incomplete objects
// when a connection ends before the last block.
func (c *conn) Abort(context.Context) error {
	return c.conn.Close()
}

// Verify Sender implements the transfer interface.
var _ transfer.Sender = (*Sender)(nil)
