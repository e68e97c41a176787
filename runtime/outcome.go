package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/justapithecus/earshot/types"
)

// Process exit codes of the run command.
const (
	ExitCodeSuccess      = 0 // cycle uploaded the recording
	ExitCodeCycleFailed  = 1 // cycle reached Idle without a successful upload
	ExitCodeInvalidInput = 3 // invalid configuration
)

// Stage names the step a cycle ended in.
type Stage string

const (
	StageCredentials Stage = "credentials"
	StageConnect     Stage = "connect"
	StageCapture     Stage = "capture"
	StageOpen        Stage = "open"
	StageUpload      Stage = "upload"
	StageDone        Stage = "done"
)

// DetermineOutcome classifies how a cycle ended.
//
// A cancelled context wins over the stage so that an interrupted cycle is
// reported as canceled rather than as a failure of the step it was in.
// A connect-stage ErrConnectTimeout maps to connect_timeout.
func DetermineOutcome(stage Stage, err error) *types.CycleOutcome {
	if stage == StageDone && err == nil {
		return &types.CycleOutcome{
			Status:  types.OutcomeSuccess,
			Message: "recording uploaded",
		}
	}
	if errors.Is(err, context.Canceled) {
		return &types.CycleOutcome{
			Status:  types.OutcomeCanceled,
			Message: fmt.Sprintf("canceled during %s", stage),
		}
	}

	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}

	switch stage {
	case StageCredentials:
		return &types.CycleOutcome{Status: types.OutcomeCanceled, Message: msg}
	case StageConnect:
		if errors.Is(err, ErrConnectTimeout) {
			return &types.CycleOutcome{Status: types.OutcomeConnectTimeout, Message: msg}
		}
		return &types.CycleOutcome{Status: types.OutcomeConnectFailed, Message: msg}
	case StageCapture:
		return &types.CycleOutcome{Status: types.OutcomeCaptureFailed, Message: msg}
	case StageOpen:
		return &types.CycleOutcome{Status: types.OutcomeUploadSkipped, Message: msg}
	default:
		return &types.CycleOutcome{Status: types.OutcomeUploadFailed, Message: msg}
	}
}

// ExitCode maps an outcome to the run command's exit code.
func ExitCode(o *types.CycleOutcome) int {
	if o != nil && o.Status == types.OutcomeSuccess {
		return ExitCodeSuccess
	}
	return ExitCodeCycleFailed
}
