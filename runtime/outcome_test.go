package runtime

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/justapithecus/earshot/pipeline"
	"github.com/justapithecus/earshot/transfer"
	"github.com/justapithecus/earshot/types"
)

func TestDetermineOutcome(t *testing.T) {
	tests := []struct {
		name  string
		stage Stage
		err   error
		want  types.OutcomeStatus
	}{
		{"done", StageDone, nil, types.OutcomeSuccess},
		{"canceled in capture", StageCapture, fmt.Errorf("read: %w", context.Canceled), types.OutcomeCanceled},
		{"canceled in upload", StageUpload, context.Canceled, types.OutcomeCanceled},
		{"credentials deadline", StageCredentials, context.DeadlineExceeded, types.OutcomeCanceled},
		{"connect timeout", StageConnect, ErrConnectTimeout, types.OutcomeConnectTimeout},
		{"connect failed", StageConnect, errors.New("no route"), types.OutcomeConnectFailed},
		{"mount", StageCapture, pipeline.ErrMount, types.OutcomeCaptureFailed},
		{"device init", StageCapture, pipeline.ErrDeviceInit, types.OutcomeCaptureFailed},
		{"missing file", StageOpen, errors.New("open resource: no such file"), types.OutcomeUploadSkipped},
		{"upload", StageUpload, transfer.ErrSend, types.OutcomeUploadFailed},
		{"upload nil error", StageUpload, nil, types.OutcomeUploadFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetermineOutcome(tt.stage, tt.err)
			if got.Status != tt.want {
				t.Errorf("status = %s, want %s", got.Status, tt.want)
			}
			if got.Message == "" {
				t.Error("empty message")
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	if got := ExitCode(&types.CycleOutcome{Status: types.OutcomeSuccess}); got != ExitCodeSuccess {
		t.Errorf("success = %d", got)
	}
	for _, s := range []types.OutcomeStatus{
		types.OutcomeConnectTimeout,
		types.OutcomeCaptureFailed,
		types.OutcomeUploadSkipped,
		types.OutcomeUploadFailed,
		types.OutcomeCanceled,
	} {
		if got := ExitCode(&types.CycleOutcome{Status: s}); got != ExitCodeCycleFailed {
			t.Errorf("%s = %d, want %d", s, got, ExitCodeCycleFailed)
		}
	}
	if got := ExitCode(nil); got != ExitCodeCycleFailed {
		t.Errorf("nil = %d", got)
	}
}
