package iox

import (
	"errors"
	"testing"
)

type spyCloser struct {
	calls int
	err   error
}

func (s *spyCloser) Close() error { s.calls++; return s.err }

func TestDiscardClose(t *testing.T) {
	s := &spyCloser{err: errors.New("ignored")}
	DiscardClose(s)
	if s.calls != 1 {
		t.Fatalf("Close calls = %d, want 1", s.calls)
	}
}

func TestDiscardErr(t *testing.T) {
	called := false
	DiscardErr(func() error {
		called = true
		return errors.New("ignored")
	})
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestOnceCloser(t *testing.T) {
	wantErr := errors.New("close failed")
	s := &spyCloser{err: wantErr}
	c := NewOnceCloser(s)

	if c.Closed() {
		t.Fatal("Closed() true before Close")
	}
	if err := c.Close(); !errors.Is(err, wantErr) {
		t.Fatalf("first Close() = %v, want %v", err, wantErr)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() = %v, want nil", err)
	}
	if s.calls != 1 {
		t.Errorf("underlying Close calls = %d, want 1", s.calls)
	}
	if !c.Closed() {
		t.Error("Closed() false after Close")
	}
}
