// Package types defines core domain types for the earshot agent.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"

	"github.com/google/uuid"
)

// CycleMeta identifies one capture/upload cycle.
// A process performs exactly one cycle per run.
type CycleMeta struct {
	// CycleID is unique per cycle (UUIDv4).
	CycleID string
	// DeviceID identifies the device in logs, object paths and events.
	DeviceID string
}

// NewCycleMeta creates cycle metadata with a fresh cycle ID.
func NewCycleMeta(deviceID string) *CycleMeta {
	return &CycleMeta{
		CycleID:  uuid.NewString(),
		DeviceID: deviceID,
	}
}

// Validate checks that the identity fields are present.
func (m *CycleMeta) Validate() error {
	if m.CycleID == "" {
		return errors.New("cycle_id must be non-empty")
	}
	if m.DeviceID == "" {
		return errors.New("device_id must be non-empty")
	}
	return nil
}

// CycleState is a Session Controller state.
type CycleState string

const (
	CycleDisconnected         CycleState = "disconnected"
	CycleWaitingForConnection CycleState = "waiting_for_connection"
	CycleConnected            CycleState = "connected"
	CycleCapturing            CycleState = "capturing"
	CycleUploading            CycleState = "uploading"
	CycleIdle                 CycleState = "idle"
)

// OutcomeStatus is the final classification of a cycle.
type OutcomeStatus string

const (
	// OutcomeSuccess indicates the recording was captured and uploaded.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeConnectTimeout indicates the connected signal never arrived
	// within the configured connect timeout.
	OutcomeConnectTimeout OutcomeStatus = "connect_timeout"
	// OutcomeConnectFailed indicates the session could not be started.
	OutcomeConnectFailed OutcomeStatus = "connect_failed"
	// OutcomeCaptureFailed indicates mount, device init or recording failed.
	OutcomeCaptureFailed OutcomeStatus = "capture_failed"
	// OutcomeUploadSkipped indicates the recording could not be opened for upload.
	OutcomeUploadSkipped OutcomeStatus = "upload_skipped"
	// OutcomeUploadFailed indicates the blockwise upload returned an error.
	OutcomeUploadFailed OutcomeStatus = "upload_failed"
	// OutcomeCanceled indicates the cycle was interrupted before it finished.
	OutcomeCanceled OutcomeStatus = "canceled"
)

// CycleOutcome is the result classification plus a human-readable message.
type CycleOutcome struct {
	Status  OutcomeStatus `json:"status" yaml:"status"`
	Message string        `json:"message" yaml:"message"`
}
