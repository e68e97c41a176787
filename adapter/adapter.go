// Package adapter defines the event-bus adapter boundary.
//
// Adapters publish cycle completion notifications to downstream systems.
// The agent owns adapter lifecycle; users provide configuration only.
// Publishing is best effort: a failed publish never changes the cycle outcome.
package adapter

import (
	"context"
	"time"

	"github.com/justapithecus/earshot/types"
)

// EventTypeUploadCompleted is the event_type of UploadCompletedEvent.
const EventTypeUploadCompleted = "upload_completed"

// UploadCompletedEvent is the payload published when a cycle finishes.
type UploadCompletedEvent struct {
	Version    string `json:"version"`
	EventType  string `json:"event_type"` // always "upload_completed"
	CycleID    string `json:"cycle_id"`
	DeviceID   string `json:"device_id"`
	Day        string `json:"day"`
	Outcome    string `json:"outcome"` // success, upload_failed, etc.
	Resource   string `json:"resource"`
	ObjectPath string `json:"object_path"`
	Timestamp  string `json:"timestamp"` // RFC 3339
	Blocks     int64  `json:"blocks"`
	Bytes      int64  `json:"bytes"`
	DurationMs int64  `json:"duration_ms"`
}

// NewUploadCompletedEvent builds the event for a cycle finishing at now.
func NewUploadCompletedEvent(meta *types.CycleMeta, outcome types.OutcomeStatus, resource string, blocks, bytes int64, dur time.Duration, now time.Time) *UploadCompletedEvent {
	return &UploadCompletedEvent{
		Version:    types.Version,
		EventType:  EventTypeUploadCompleted,
		CycleID:    meta.CycleID,
		DeviceID:   meta.DeviceID,
		Day:        types.DeriveDay(now),
		Outcome:    string(outcome),
		Resource:   resource,
		ObjectPath: types.ObjectPath(meta.DeviceID, now, resource),
		Timestamp:  now.UTC().Format(time.RFC3339),
		Blocks:     blocks,
		Bytes:      bytes,
		DurationMs: dur.Milliseconds(),
	}
}

// Key identifies the event downstream. Retries of one event share it, so
// receivers can drop repeats.
func (e *UploadCompletedEvent) Key() string {
	if e.CycleID != "" {
		return e.CycleID + "/" + e.Resource
	}
	return e.ObjectPath
}

// Succeeded reports whether the event describes a stored recording.
func (e *UploadCompletedEvent) Succeeded() bool {
	return e.Outcome == string(types.OutcomeSuccess)
}

// Adapter publishes cycle completion events to a downstream system.
type Adapter interface {
	// Publish sends a completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *UploadCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
