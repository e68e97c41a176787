// Package pipeline records a fixed-duration WAV file from a capture device
// onto a mounted storage volume.
//
// A recording walks Idle -> MountRequested -> DeviceInitialized ->
// Recording -> Finalized. Mount or device init failures abort before any
// sample is read. The payload written is exactly byteRate * duration bytes.
// Once the Recording state is reached the recording runs to its target;
// context cancellation is honored only before that.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/earshot/capture"
	"github.com/justapithecus/earshot/iox"
	"github.com/justapithecus/earshot/log"
	"github.com/justapithecus/earshot/metrics"
	"github.com/justapithecus/earshot/storage"
	"github.com/justapithecus/earshot/types"
	"github.com/justapithecus/earshot/wav"
)

// State is a capture pipeline state.
type State string

const (
	StateIdle              State = "idle"
	StateMountRequested    State = "mount_requested"
	StateDeviceInitialized State = "device_initialized"
	StateRecording         State = "recording"
	StateFinalized         State = "finalized"
)

var (
	// ErrMount indicates the storage volume could not be mounted.
	ErrMount = errors.New("storage mount failed")
	// ErrDeviceInit indicates the capture device could not be initialized.
	ErrDeviceInit = errors.New("capture device init failed")
	// ErrCapture indicates the recording aborted after it started.
	ErrCapture = errors.New("capture aborted")
)

// previewSamples is the number of leading samples logged per chunk.
const previewSamples = 4

// maxEmptyReads is the number of consecutive reads returning no bytes after
// which the device is considered stalled.
const maxEmptyReads = 100

// Config configures a Recorder.
type Config struct {
	// Volume receives the recording. Required.
	Volume storage.Volume
	// Device produces samples. Required.
	Device capture.Device
	// Format is the PCM format requested from the device and written to the header.
	Format types.AudioFormat
	// ChunkSize is the number of bytes requested per read (default
	// capture.DefaultChunkSize). It is rounded up to a whole number of frames.
	ChunkSize int
	// ReadTimeout bounds a single device read (default capture.DefaultReadTimeout).
	ReadTimeout time.Duration
	// Logger receives progress and failures. If nil, logging is discarded.
	Logger *log.Logger
	// Collector records capture counters. Nil-safe.
	Collector *metrics.Collector
	// Observer is called on every state transition. Optional.
	Observer func(State)
}

// Recorder runs recordings. Each Record call is one independent recording.
type Recorder struct {
	config Config
	logger *log.Logger
	state  State
}

// NewRecorder validates cfg and applies defaults.
func NewRecorder(cfg Config) (*Recorder, error) {
	if cfg.Volume == nil {
		return nil, errors.New("volume is required")
	}
	if cfg.Device == nil {
		return nil, errors.New("device is required")
	}
	if err := cfg.Format.Validate(); err != nil {
		return nil, fmt.Errorf("invalid format: %w", err)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = capture.DefaultChunkSize
	}
	if align := cfg.Format.BlockAlign(); cfg.ChunkSize%align != 0 {
		cfg.ChunkSize += align - cfg.ChunkSize%align
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = capture.DefaultReadTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Discard()
	}
	return &Recorder{config: cfg, logger: logger.Named("pipeline"), state: StateIdle}, nil
}

// State returns the current pipeline state.
func (r *Recorder) State() State {
	return r.state
}

func (r *Recorder) transition(s State) {
	r.state = s
	r.logger.Debug("capture state", map[string]any{"state": string(s)})
	if r.config.Observer != nil {
		r.config.Observer(s)
	}
}

// Record mounts the volume, initializes the device and writes
// cc.FileName. The volume stays mounted on return; the caller unmounts it
// after the recording has been consumed. The device is closed on return.
// A ctx cancelled before capture starts aborts with ErrCapture.
func (r *Recorder) Record(ctx context.Context, cc types.CaptureContext) (*types.Recording, error) {
	if err := errors.Join(cc.Validate(), cc.ValidateFor(r.config.Format)); err != nil {
		return nil, fmt.Errorf("invalid capture context: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapture, err)
	}
	r.transition(StateIdle)

	r.transition(StateMountRequested)
	if err := r.config.Volume.Mount(); err != nil {
		r.logger.Error("failed to mount storage", map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("%w: %v", ErrMount, err)
	}
	path, err := r.config.Volume.Path(cc.FileName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMount, err)
	}

	if err := r.config.Device.Init(ctx, r.config.Format); err != nil {
		r.logger.Error("failed to initialize capture device", map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("%w: %v", ErrDeviceInit, err)
	}
	defer iox.DiscardClose(r.config.Device)
	r.transition(StateDeviceInitialized)

	target := cc.TargetBytes(r.config.Format)
	w, err := wav.Create(path, wav.Header{Format: r.config.Format, DataSize: uint32(target)})
	if err != nil {
		r.logger.Error("failed to open recording", map[string]any{"path": path, "error": err.Error()})
		return nil, fmt.Errorf("%w: %v", ErrCapture, err)
	}

	r.logger.Info("starting recording", map[string]any{
		"file":         cc.FileName,
		"duration_s":   cc.DurationSeconds,
		"target_bytes": target,
	})
	r.transition(StateRecording)

	start := time.Now()
	failures, err := r.captureLoop(w, target)
	if err != nil {
		_ = w.Abort()
		return nil, err
	}
	if err := w.Finalize(); err != nil {
		return nil, fmt.Errorf("%w: finalize: %v", ErrCapture, err)
	}
	r.transition(StateFinalized)

	rec := &types.Recording{
		Path:              path,
		FileName:          cc.FileName,
		Format:            r.config.Format,
		DeclaredBytes:     target,
		PayloadBytes:      w.Written(),
		TransientFailures: failures,
		Elapsed:           time.Since(start),
	}
	r.logger.Info("recording done", map[string]any{
		"path":               rec.Path,
		"payload_bytes":      rec.PayloadBytes,
		"transient_failures": rec.TransientFailures,
		"elapsed_ms":         rec.Elapsed.Milliseconds(),
	})
	return rec, nil
}

// captureLoop reads until target bytes are written. It does not watch a
// context: a started recording is never cut short.
func (r *Recorder) captureLoop(w *wav.Writer, target int64) (int, error) {
	buf := make([]byte, r.config.ChunkSize)
	failures, empty := 0, 0

	for w.Written() < target {
		n, err := r.config.Device.Read(buf, r.config.ReadTimeout)
		if err != nil {
			if !capture.IsTransient(err) {
				r.logger.Error("capture device failed", map[string]any{"error": err.Error()})
				return failures, fmt.Errorf("%w: %v", ErrCapture, err)
			}
			failures++
			r.config.Collector.IncTransientFailure()
			r.logger.Warn("read failed", map[string]any{"error": err.Error(), "failures": failures})
			continue
		}
		if n == 0 {
			empty++
			if empty >= maxEmptyReads {
				r.logger.Error("capture device stalled", map[string]any{
					"empty_reads": empty,
					"written":     w.Written(),
					"target":      target,
				})
				return failures, fmt.Errorf("%w: no data after %d reads", ErrCapture, empty)
			}
			continue
		}
		empty = 0

		if r.config.Format.BitDepth == 16 {
			r.logger.Debug("samples", map[string]any{"preview": capture.Int16Samples(buf[:n], previewSamples)})
		}

		chunk := buf[:n]
		if remaining := target - w.Written(); int64(n) > remaining {
			chunk = chunk[:remaining]
		}
		if err := w.Append(chunk); err != nil {
			return failures, fmt.Errorf("%w: %v", ErrCapture, err)
		}
		r.config.Collector.IncChunkRead(len(chunk))
	}
	return failures, nil
}
