package adapter

import (
	"testing"
	"time"

	"github.com/justapithecus/earshot/types"
)

func TestNewUploadCompletedEvent(t *testing.T) {
	meta := &types.CycleMeta{CycleID: "cycle-1", DeviceID: "esp-01"}
	now := time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)

	e := NewUploadCompletedEvent(meta, types.OutcomeSuccess, "record.wav", 40, 160044, 1500*time.Millisecond, now)

	if e.EventType != EventTypeUploadCompleted || e.Version != types.Version {
		t.Errorf("header fields = %q %q", e.EventType, e.Version)
	}
	if e.Day != "2026-02-07" || e.Timestamp != "2026-02-07T12:00:00Z" {
		t.Errorf("time fields = %q %q", e.Day, e.Timestamp)
	}
	if e.ObjectPath != "recordings/device=esp-01/day=2026-02-07/record.wav" {
		t.Errorf("ObjectPath = %q", e.ObjectPath)
	}
	if e.Outcome != "success" || e.Blocks != 40 || e.Bytes != 160044 || e.DurationMs != 1500 {
		t.Errorf("event = %+v", e)
	}
}
