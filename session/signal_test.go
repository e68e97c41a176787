package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/justapithecus/earshot/types"
)

func TestSignal_FireBeforeWait(t *testing.T) {
	s := NewSignal()
	s.Fire()

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() after Fire = %v, want nil", err)
	}
	if !s.Fired() {
		t.Error("Fired() = false")
	}
}

func TestSignal_FireIdempotent(t *testing.T) {
	s := NewSignal()
	s.Fire()
	s.Fire()
	select {
	case <-s.Done():
	default:
		t.Fatal("Done() not closed")
	}
}

func TestSignal_WaitReleasedByFire(t *testing.T) {
	s := NewSignal()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Wait(t.Context()) }()

	time.Sleep(10 * time.Millisecond)
	s.Fire()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Wait() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait() not released")
	}
}

func TestSignal_WaitTimeout(t *testing.T) {
	s := NewSignal()
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() = %v, want DeadlineExceeded", err)
	}
	if s.Fired() {
		t.Error("Fired() = true")
	}
}

func TestSignal_OnConnected(t *testing.T) {
	s := NewSignal()
	obs := s.OnConnected()

	obs(Event{State: types.ConnectionDisconnected})
	if s.Fired() {
		t.Fatal("fired on disconnected event")
	}
	obs(Event{State: types.ConnectionConnected})
	if !s.Fired() {
		t.Fatal("not fired on connected event")
	}
}
