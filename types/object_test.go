package types

import (
	"testing"
	"time"
)

func TestObjectPath(t *testing.T) {
	ts := time.Date(2026, 2, 7, 23, 30, 0, 0, time.FixedZone("X", -2*3600))
	got := ObjectPath("esp-01", ts, "record.wav")
	want := "recordings/device=esp-01/day=2026-02-08/record.wav"
	if got != want {
		t.Errorf("ObjectPath() = %q, want %q", got, want)
	}
}
