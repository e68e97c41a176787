package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/justapithecus/earshot/metrics"
	"github.com/justapithecus/earshot/types"
)

// CycleReport is the structured JSON report written by --report.
type CycleReport struct {
	CycleID    string              `json:"cycle_id"`
	DeviceID   string              `json:"device_id"`
	Outcome    types.OutcomeStatus `json:"outcome"`
	Message    string              `json:"message"`
	ExitCode   int                 `json:"exit_code"`
	DurationMs int64               `json:"duration_ms"`
	Heartbeats int64               `json:"heartbeats"`

	Recording *ReportRecording `json:"recording"`
	Upload    *ReportUpload    `json:"upload"`
	Metrics   *metrics.Snapshot `json:"metrics"`
}

// ReportRecording holds capture stats in the report.
type ReportRecording struct {
	File              string `json:"file"`
	Path              string `json:"path"`
	DeclaredBytes     int64  `json:"declared_bytes"`
	PayloadBytes      int64  `json:"payload_bytes"`
	TransientFailures int    `json:"transient_failures"`
	ElapsedMs         int64  `json:"elapsed_ms"`
}

// ReportUpload holds upload stats in the report.
type ReportUpload struct {
	Resource   string `json:"resource"`
	Blocks     int64  `json:"blocks"`
	Bytes      int64  `json:"bytes"`
	DurationMs int64  `json:"duration_ms"`
}

// BuildCycleReport composes a CycleReport from a CycleResult and metrics
// snapshot. Recording and upload are null when the cycle never got there.
func BuildCycleReport(result *CycleResult, snap metrics.Snapshot, exitCode int) *CycleReport {
	report := &CycleReport{
		CycleID:    result.Meta.CycleID,
		DeviceID:   result.Meta.DeviceID,
		Outcome:    result.Outcome.Status,
		Message:    result.Outcome.Message,
		ExitCode:   exitCode,
		DurationMs: result.Duration.Milliseconds(),
		Heartbeats: result.Heartbeats,
		Metrics:    &snap,
	}

	if rec := result.Recording; rec != nil {
		report.Recording = &ReportRecording{
			File:              rec.FileName,
			Path:              rec.Path,
			DeclaredBytes:     rec.DeclaredBytes,
			PayloadBytes:      rec.PayloadBytes,
			TransientFailures: rec.TransientFailures,
			ElapsedMs:         rec.Elapsed.Milliseconds(),
		}
	}
	if up := result.Upload; up != nil {
		report.Upload = &ReportUpload{
			Resource:   up.Resource,
			Blocks:     up.Blocks,
			Bytes:      up.Bytes,
			DurationMs: up.Duration.Milliseconds(),
		}
	}
	return report
}

// WriteCycleReport writes the report as JSON to the specified path.
// If path is "-", writes to stderr.
func WriteCycleReport(report *CycleReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}

	if path == "-" {
		if err := writeCycleReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open report %s: %w", path, err)
	}
	if err := writeCycleReportTo(report, f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return f.Close()
}

func writeCycleReportTo(report *CycleReport, w io.Writer) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
