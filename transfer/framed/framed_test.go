package framed

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/earshot/blocksource"
	"github.com/justapithecus/earshot/transfer"
	"github.com/justapithecus/earshot/types"
	"github.com/justapithecus/earshot/wire"
)

// ackServer acks every frame, rejecting block rejectAt (-1 = never).
type ackServer struct {
	ln       net.Listener
	rejectAt int64

	mu     sync.Mutex
	hellos []*types.HelloFrame
	blocks []*types.BlockFrame
}

func startAckServer(t *testing.T, rejectAt int64) *ackServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &ackServer{ln: ln, rejectAt: rejectAt}
	t.Cleanup(func() { _ = ln.Close() })
	go s.serve()
	return s
}

func (s *ackServer) serve() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(c)
	}
}

func (s *ackServer) handle(c net.Conn) {
	defer func() { _ = c.Close() }()
	dec := wire.NewFrameDecoder(c)
	enc := wire.NewFrameEncoder(c)
	for {
		payload, err := dec.ReadFrame()
		if err != nil {
			return
		}
		frame, err := wire.DecodeFrame(payload)
		if err != nil {
			return
		}
		ack := &types.AckFrame{Type: types.FrameTypeAck, OK: true}
		switch f := frame.(type) {
		case *types.HelloFrame:
			s.mu.Lock()
			s.hellos = append(s.hellos, f)
			s.mu.Unlock()
		case *types.BlockFrame:
			ack.Index = f.Index
			ack.Resource = f.Resource
			if s.rejectAt >= 0 && int64(f.Index) == s.rejectAt {
				ack.OK = false
				ack.Error = "rejected"
			} else {
				s.mu.Lock()
				s.blocks = append(s.blocks, f)
				s.mu.Unlock()
			}
		}
		if err := enc.WriteFrame(ack); err != nil {
			return
		}
	}
}

func (s *ackServer) received() ([]*types.HelloFrame, []*types.BlockFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.HelloFrame(nil), s.hellos...), append([]*types.BlockFrame(nil), s.blocks...)
}

func TestUpload(t *testing.T) {
	srv := startAckServer(t, -1)
	s, err := New(Config{Addr: srv.ln.Addr().String(), DeviceID: "esp-01"})
	if err != nil {
		t.Fatal(err)
	}

	data := bytes.Repeat([]byte("pcm"), 100)
	d := &transfer.Driver{Sender: s, BlockSize: 64}
	res, err := d.Upload(t.Context(), "record.wav", "application/octet-stream", blocksource.New(io.NopCloser(bytes.NewReader(data))))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if res.Blocks != 5 || res.Bytes != 300 {
		t.Errorf("Result = %+v", res)
	}

	hellos, blocks := srv.received()
	if len(hellos) != 1 || hellos[0].DeviceID != "esp-01" || hellos[0].Version != types.WireVersion {
		t.Errorf("hellos = %+v", hellos)
	}
	var got bytes.Buffer
	for i, b := range blocks {
		if b.Index != uint64(i) {
			t.Errorf("block %d has index %d", i, b.Index)
		}
		if b.IsLast != (i == len(blocks)-1) {
			t.Errorf("block %d IsLast = %v", i, b.IsLast)
		}
		got.Write(b.Data)
	}
	if !bytes.Equal(got.Bytes(), data) {
		t.Error("received bytes differ")
	}
}

func TestUpload_NegativeAck(t *testing.T) {
	srv := startAckServer(t, 2)
	s, _ := New(Config{Addr: srv.ln.Addr().String()})

	d := &transfer.Driver{Sender: s, BlockSize: 10}
	_, err := d.Upload(t.Context(), "a.wav", "application/octet-stream", blocksource.New(io.NopCloser(bytes.NewReader(make([]byte, 100)))))
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if _, blocks := srv.received(); len(blocks) != 2 {
		t.Errorf("accepted blocks = %d, want 2", len(blocks))
	}
}

func TestProbe(t *testing.T) {
	srv := startAckServer(t, -1)
	s, _ := New(Config{Addr: srv.ln.Addr().String()})
	if err := s.Probe(t.Context()); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	// Closed port: grab a free address then release it.
	ln, _ := net.Listen("tcp", "127.0.0.1:0")
	addr := ln.Addr().String()
	_ = ln.Close()
	s2, _ := New(Config{Addr: addr, DialTimeout: time.Second})
	if err := s2.Probe(t.Context()); err == nil {
		t.Error("Probe() = nil on closed port")
	}
}

func TestAckTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ln.Close() }()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		// Never answer.
		_, _ = io.Copy(io.Discard, c)
	}()

	s, _ := New(Config{Addr: ln.Addr().String(), AckTimeout: 50 * time.Millisecond})
	if err := s.Probe(t.Context()); err == nil {
		t.Fatal("Probe() = nil, want ack timeout")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty address")
	}
	if _, err := New(Config{Addr: "no-port"}); err == nil {
		t.Error("expected error for missing port")
	}
}
