package receiver

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"
)

var testKey = Key{DeviceID: "esp-01", Resource: "record.wav"}

func blk(index uint64, data string, last bool) Block {
	return Block{Index: index, BlockSize: 8, ContentType: "application/octet-stream", Data: []byte(data), Last: last}
}

func TestAssembler_InOrder(t *testing.T) {
	a := NewAssembler(0)

	for i, b := range []Block{blk(0, "aaaa", false), blk(1, "bbbb", false)} {
		obj, err := a.Add(testKey, b)
		if err != nil || obj != nil {
			t.Fatalf("block %d: obj=%v err=%v", i, obj, err)
		}
	}
	if a.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", a.Pending())
	}

	obj, err := a.Add(testKey, blk(2, "cc", true))
	if err != nil {
		t.Fatalf("last block: %v", err)
	}
	if obj == nil {
		t.Fatal("expected assembled object")
	}
	if !bytes.Equal(obj.Data, []byte("aaaabbbbcc")) || obj.Blocks != 3 {
		t.Errorf("object = %q, %d blocks", obj.Data, obj.Blocks)
	}
	if obj.ContentType != "application/octet-stream" || obj.Key != testKey {
		t.Errorf("object meta = %+v", obj)
	}
	if a.Pending() != 0 {
		t.Errorf("Pending = %d after completion", a.Pending())
	}
}

func TestAssembler_SingleBlock(t *testing.T) {
	a := NewAssembler(0)
	obj, err := a.Add(testKey, blk(0, "x", true))
	if err != nil || obj == nil || string(obj.Data) != "x" {
		t.Fatalf("obj=%v err=%v", obj, err)
	}
}

func TestAssembler_Errors(t *testing.T) {
	tests := []struct {
		name  string
		setup []Block
		block Block
		max   int64
		want  error
	}{
		{
			name:  "first block not zero",
			block: blk(1, "a", false),
			want:  ErrBlockOrder,
		},
		{
			name:  "gap",
			setup: []Block{blk(0, "a", false)},
			block: blk(2, "b", false),
			want:  ErrBlockOrder,
		},
		{
			name:  "after last",
			setup: []Block{blk(0, "a", false), blk(1, "b", true)},
			block: blk(2, "c", false),
			want:  ErrAfterLast,
		},
		{
			name:  "too large",
			setup: []Block{blk(0, "aaaa", false)},
			block: blk(1, "bbbb", false),
			max:   6,
			want:  ErrTooLarge,
		},
		{
			name:  "block exceeds block size",
			block: blk(0, "123456789", false),
			want:  ErrBlockSize,
		},
		{
			name:  "empty",
			block: blk(0, "", true),
			want:  ErrEmptyBlock,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAssembler(tt.max)
			for _, b := range tt.setup {
				if _, err := a.Add(testKey, b); err != nil {
					t.Fatalf("setup block %d: %v", b.Index, err)
				}
			}
			_, err := a.Add(testKey, tt.block)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if !IsFatal(err) {
				t.Error("IsFatal = false")
			}
			if a.Pending() != 0 {
				t.Errorf("upload not discarded, Pending = %d", a.Pending())
			}
		})
	}
}

func TestAssembler_Duplicate(t *testing.T) {
	a := NewAssembler(0)
	if _, err := a.Add(testKey, blk(0, "aaaa", false)); err != nil {
		t.Fatal(err)
	}

	_, err := a.Add(testKey, blk(0, "aaaa", false))
	// Index 0 always restarts, so resend of block 0 is a fresh upload.
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if _, err := a.Add(testKey, blk(1, "bbbb", false)); err != nil {
		t.Fatal(err)
	}

	_, err = a.Add(testKey, blk(1, "bbbb", false))
	if !errors.Is(err, ErrDuplicate) || IsFatal(err) {
		t.Fatalf("err = %v, want non-fatal ErrDuplicate", err)
	}

	obj, err := a.Add(testKey, blk(2, "c", true))
	if err != nil || string(obj.Data) != "aaaabbbbc" {
		t.Fatalf("obj=%v err=%v", obj, err)
	}

	// Retransmitted last block after completion.
	if _, err := a.Add(testKey, blk(2, "c", true)); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestAssembler_RollbackAllowsRetry(t *testing.T) {
	a := NewAssembler(0)
	_, _ = a.Add(testKey, blk(0, "aaaa", false))
	if _, err := a.Add(testKey, blk(1, "bb", true)); err != nil {
		t.Fatal(err)
	}

	a.Rollback(testKey)
	if a.Pending() != 1 {
		t.Fatalf("Pending = %d after rollback", a.Pending())
	}

	obj, err := a.Add(testKey, blk(1, "bb", true))
	if err != nil || string(obj.Data) != "aaaabb" {
		t.Fatalf("obj=%v err=%v", obj, err)
	}

	a.Release(testKey)
	a.Rollback(testKey) // no-op once released
	if _, err := a.Add(testKey, blk(1, "bb", true)); !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
}

func TestAssembler_Discard(t *testing.T) {
	a := NewAssembler(0)
	_, _ = a.Add(testKey, blk(0, "a", false))
	if !a.Discard(testKey) {
		t.Error("Discard = false for incomplete upload")
	}
	if a.Discard(testKey) {
		t.Error("Discard = true for unknown upload")
	}

	other := Key{DeviceID: "esp-02", Resource: "record.wav"}
	_, _ = a.Add(testKey, blk(0, "a", false))
	if _, err := a.Add(other, blk(0, "b", false)); err != nil {
		t.Fatalf("uploads from different devices must not interfere: %v", err)
	}
	if a.Pending() != 2 {
		t.Errorf("Pending = %d, want 2", a.Pending())
	}
}

func TestAssembler_ReleasedUploadsEvicted(t *testing.T) {
	a := NewAssembler(0)
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	for i := range 50 {
		key := Key{DeviceID: "esp-01", Resource: fmt.Sprintf("rec-%d.wav", i)}
		if _, err := a.Add(key, blk(0, "data", true)); err != nil {
			t.Fatal(err)
		}
		a.Release(key)
	}
	if a.Tracked() != 50 {
		t.Fatalf("Tracked = %d, want 50 inside the grace period", a.Tracked())
	}
	first := Key{DeviceID: "esp-01", Resource: "rec-0.wav"}
	if _, err := a.Add(first, blk(0, "data", true)); err != nil {
		t.Fatalf("restart inside grace: %v", err)
	}
	a.Release(first)

	// An in-flight upload is never evicted, however old.
	_, _ = a.Add(testKey, blk(0, "aaaa", false))

	now = now.Add(ReleaseGrace + time.Second)
	if _, err := a.Add(testKey, blk(1, "bb", false)); err != nil {
		t.Fatalf("in-flight upload lost: %v", err)
	}
	if a.Tracked() != 1 {
		t.Errorf("Tracked = %d, want 1 after the grace period", a.Tracked())
	}
	if a.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", a.Pending())
	}
}

func TestAssembler_DuplicateLastInsideGrace(t *testing.T) {
	a := NewAssembler(0)
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	_, _ = a.Add(testKey, blk(0, "aaaa", false))
	if _, err := a.Add(testKey, blk(1, "bb", true)); err != nil {
		t.Fatal(err)
	}
	a.Release(testKey)

	now = now.Add(ReleaseGrace / 2)
	if _, err := a.Add(testKey, blk(1, "bb", true)); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate inside the grace period", err)
	}

	now = now.Add(ReleaseGrace)
	if _, err := a.Add(testKey, blk(1, "bb", true)); !errors.Is(err, ErrBlockOrder) {
		t.Errorf("err = %v, want ErrBlockOrder once evicted", err)
	}
}
