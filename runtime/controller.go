// Package runtime implements the earshot session controller.
//
// One Run is one power-on: wait for credentials, wait for the connected
// signal, record, upload the recording blockwise and then idle with a
// periodic heartbeat until the context is cancelled. No failure ends the
// process; every path reaches Idle with a classified outcome.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/justapithecus/earshot/adapter"
	"github.com/justapithecus/earshot/blocksource"
	"github.com/justapithecus/earshot/credentials"
	"github.com/justapithecus/earshot/log"
	"github.com/justapithecus/earshot/metrics"
	"github.com/justapithecus/earshot/session"
	"github.com/justapithecus/earshot/storage"
	"github.com/justapithecus/earshot/transfer"
	"github.com/justapithecus/earshot/types"
)

// Controller defaults.
const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultPublishTimeout    = 10 * time.Second
	DefaultContentType       = "application/octet-stream"
)

// ErrConnectTimeout is the cause recorded when the connected signal does not
// arrive within Config.ConnectTimeout.
var ErrConnectTimeout = errors.New("timed out waiting for connection")

// Session is the network session the controller drives.
// *session.Client implements it.
type Session interface {
	Connect(ctx context.Context) error
	UploadBlockwise(ctx context.Context, resource, contentType string, src transfer.Source) (transfer.Result, error)
}

// Capturer records one file. *pipeline.Recorder implements it.
type Capturer interface {
	Record(ctx context.Context, cc types.CaptureContext) (*types.Recording, error)
}

// Source is a block source that owns an open resource.
type Source interface {
	transfer.Source
	Close() error
}

// OpenFunc opens a finished recording for upload.
type OpenFunc func(path string) (Source, int64, error)

// Config configures a Controller.
type Config struct {
	// Meta identifies the cycle. Required.
	Meta *types.CycleMeta
	// Credentials gates Connect. Nil means always ready.
	Credentials credentials.Gate
	// CredentialPoll is the gate polling interval (default 1s).
	CredentialPoll time.Duration
	// Session is the network session. Required.
	Session Session
	// Connected is released by the session's connected event. Required.
	Connected *session.Signal
	// ConnectTimeout bounds the wait for Connected. Zero waits forever.
	ConnectTimeout time.Duration
	// Capturer records the file. Required.
	Capturer Capturer
	// Volume is unmounted once the upload stage is over. Optional.
	Volume storage.Volume
	// Capture names the file and its duration.
	Capture types.CaptureContext
	// ContentType is sent with the upload (default application/octet-stream).
	ContentType string
	// Open opens the recording for upload (default blocksource.Open).
	Open OpenFunc
	// Adapter receives the completion event. Optional, best effort.
	Adapter adapter.Adapter
	// PublishTimeout bounds the completion publish (default 10s).
	PublishTimeout time.Duration
	// HeartbeatInterval is the Idle heartbeat period (default 5s).
	HeartbeatInterval time.Duration
	// Logger is required.
	Logger *log.Logger
	// Collector is optional.
	Collector *metrics.Collector
	// Observer is called on every state transition. Optional.
	Observer func(types.CycleState)
	// Now is the clock for events (default time.Now).
	Now func() time.Time
}

// CycleResult is the outcome of one cycle.
type CycleResult struct {
	Meta       *types.CycleMeta    `json:"meta"`
	Outcome    *types.CycleOutcome `json:"outcome"`
	Recording  *types.Recording    `json:"recording,omitempty"`
	Upload     *transfer.Result    `json:"upload,omitempty"`
	Duration   time.Duration       `json:"duration"`
	Heartbeats int64               `json:"heartbeats"`
}

// Controller runs one capture-then-upload cycle.
type Controller struct {
	config Config
	logger *log.Logger

	mu    sync.Mutex
	state types.CycleState
}

// NewController validates cfg and applies defaults.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Meta == nil {
		return nil, errors.New("cycle metadata is required")
	}
	if err := cfg.Meta.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cycle metadata: %w", err)
	}
	if cfg.Session == nil {
		return nil, errors.New("session is required")
	}
	if cfg.Connected == nil {
		return nil, errors.New("connected signal is required")
	}
	if cfg.Capturer == nil {
		return nil, errors.New("capturer is required")
	}
	if err := cfg.Capture.Validate(); err != nil {
		return nil, fmt.Errorf("invalid capture context: %w", err)
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Credentials == nil {
		cfg.Credentials = credentials.Static(true)
	}
	if cfg.CredentialPoll <= 0 {
		cfg.CredentialPoll = credentials.DefaultPollInterval
	}
	if cfg.ContentType == "" {
		cfg.ContentType = DefaultContentType
	}
	if cfg.Open == nil {
		cfg.Open = func(path string) (Source, int64, error) {
			f, size, err := blocksource.Open(path)
			if err != nil {
				return nil, 0, err
			}
			return f, size, nil
		}
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Controller{
		config: cfg,
		logger: cfg.Logger.Named("controller"),
		state:  types.CycleDisconnected,
	}, nil
}

// State returns the current controller state.
func (c *Controller) State() types.CycleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) transition(s types.CycleState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.logger.Debug("cycle state", map[string]any{"state": string(s)})
	if c.config.Observer != nil {
		c.config.Observer(s)
	}
}

// Run performs one cycle and then heartbeats in Idle until ctx is done.
// The returned error is always nil; failures are reported in the outcome.
func (c *Controller) Run(ctx context.Context) (*CycleResult, error) {
	res := c.RunCycle(ctx)
	res.Heartbeats = c.heartbeat(ctx, res.Outcome)
	return res, nil
}

// RunCycle performs the cycle up to Idle without the heartbeat loop.
func (c *Controller) RunCycle(ctx context.Context) *CycleResult {
	start := time.Now()
	c.config.Collector.IncCycleStarted()
	c.logger.Info("cycle starting", map[string]any{
		"file":       c.config.Capture.FileName,
		"duration_s": c.config.Capture.DurationSeconds,
	})

	res := &CycleResult{Meta: c.config.Meta}
	res.Outcome = c.cycle(ctx, res)
	res.Duration = time.Since(start)

	c.transition(types.CycleIdle)
	c.config.Collector.RecordOutcome(string(res.Outcome.Status), res.Outcome.Status == types.OutcomeSuccess)
	c.publish(ctx, res)

	fields := map[string]any{
		"outcome":     string(res.Outcome.Status),
		"message":     res.Outcome.Message,
		"duration_ms": res.Duration.Milliseconds(),
	}
	if res.Outcome.Status == types.OutcomeSuccess {
		c.logger.Info("cycle completed", fields)
	} else {
		c.logger.Warn("cycle completed", fields)
	}
	return res
}

func (c *Controller) cycle(ctx context.Context, res *CycleResult) *types.CycleOutcome {
	c.transition(types.CycleDisconnected)

	if err := credentials.Wait(ctx, c.config.Credentials, c.config.CredentialPoll, c.logger); err != nil {
		return DetermineOutcome(StageCredentials, err)
	}
	if err := c.config.Session.Connect(ctx); err != nil {
		c.logger.Error("failed to start session", map[string]any{"error": err.Error()})
		return DetermineOutcome(StageConnect, err)
	}

	c.transition(types.CycleWaitingForConnection)
	if err := c.waitConnected(ctx); err != nil {
		c.logger.Warn("connection not established", map[string]any{"error": err.Error()})
		return DetermineOutcome(StageConnect, err)
	}
	c.transition(types.CycleConnected)

	c.transition(types.CycleCapturing)
	rec, err := c.config.Capturer.Record(ctx, c.config.Capture)
	if err != nil {
		c.logger.Error("capture failed", map[string]any{"error": err.Error()})
		c.unmount()
		return DetermineOutcome(StageCapture, err)
	}
	res.Recording = rec

	c.transition(types.CycleUploading)
	outcome := c.upload(ctx, rec, res)
	c.unmount()
	return outcome
}

func (c *Controller) waitConnected(ctx context.Context) error {
	if c.config.ConnectTimeout <= 0 {
		return c.config.Connected.Wait(ctx)
	}
	waitCtx, cancel := context.WithTimeoutCause(ctx, c.config.ConnectTimeout, ErrConnectTimeout)
	defer cancel()
	if err := c.config.Connected.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return context.Cause(waitCtx)
	}
	return nil
}

// upload streams the recording. The source is closed exactly once here.
func (c *Controller) upload(ctx context.Context, rec *types.Recording, res *CycleResult) *types.CycleOutcome {
	src, size, err := c.config.Open(rec.Path)
	if err != nil {
		c.logger.Error("recording not uploadable", map[string]any{"path": rec.Path, "error": err.Error()})
		return DetermineOutcome(StageOpen, err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			c.logger.Warn("failed to close recording", map[string]any{"error": err.Error()})
		}
	}()

	c.logger.Info("upload starting", map[string]any{"file": rec.FileName, "bytes": size})
	result, err := c.config.Session.UploadBlockwise(ctx, rec.FileName, c.config.ContentType, src)
	res.Upload = &result
	if err != nil {
		c.logger.Error("upload failed", map[string]any{
			"file":   rec.FileName,
			"blocks": result.Blocks,
			"error":  err.Error(),
		})
		return DetermineOutcome(StageUpload, err)
	}
	c.logger.Info("upload done", map[string]any{
		"file":        rec.FileName,
		"blocks":      result.Blocks,
		"bytes":       result.Bytes,
		"duration_ms": result.Duration.Milliseconds(),
	})
	return DetermineOutcome(StageDone, nil)
}

func (c *Controller) unmount() {
	v := c.config.Volume
	if v == nil || !v.Mounted() {
		return
	}
	if err := v.Unmount(); err != nil {
		c.logger.Warn("failed to unmount storage", map[string]any{"error": err.Error()})
	}
}

// publish sends the completion event. Failures are logged only.
func (c *Controller) publish(ctx context.Context, res *CycleResult) {
	if c.config.Adapter == nil {
		return
	}
	var blocks, bytes int64
	var dur time.Duration
	if res.Upload != nil {
		blocks, bytes, dur = res.Upload.Blocks, res.Upload.Bytes, res.Upload.Duration
	}
	event := adapter.NewUploadCompletedEvent(res.Meta, res.Outcome.Status, c.config.Capture.FileName, blocks, bytes, dur, c.config.Now())

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.PublishTimeout)
	defer cancel()
	if err := c.config.Adapter.Publish(pubCtx, event); err != nil {
		c.logger.Warn("failed to publish completion event", map[string]any{"error": err.Error()})
		return
	}
	c.logger.Debug("completion event published", map[string]any{"object_path": event.ObjectPath})
}

// heartbeat logs a counter every HeartbeatInterval until ctx is done.
func (c *Controller) heartbeat(ctx context.Context, outcome *types.CycleOutcome) int64 {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	var n int64
	for {
		select {
		case <-ctx.Done():
			return n
		case <-ticker.C:
			n++
			c.config.Collector.IncHeartbeat()
			c.logger.Info("heartbeat", map[string]any{
				"count":   n,
				"outcome": string(outcome.Status),
			})
		}
	}
}
