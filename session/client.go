package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/justapithecus/earshot/log"
	"github.com/justapithecus/earshot/metrics"
	"github.com/justapithecus/earshot/transfer"
	"github.com/justapithecus/earshot/types"
)

// Probe loop defaults.
const (
	DefaultProbeInterval = 5 * time.Second
	DefaultMinBackoff    = 250 * time.Millisecond
	DefaultMaxBackoff    = 10 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

var (
	// ErrNotConnected is returned by UploadBlockwise before the session connects.
	ErrNotConnected = errors.New("session not connected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session closed")
)

// Event reports a connection state change.
type Event struct {
	State types.ConnectionState
	// Err is the probe error that caused a disconnect, if any.
	Err error
}

// Config configures a Client.
type Config struct {
	// Sender is the upload transport, also used to probe the endpoint. Required.
	Sender transfer.Sender
	// BlockSize is the upload block size (default transfer.DefaultBlockSize).
	BlockSize int
	// ProbeInterval is the delay between probes while connected.
	ProbeInterval time.Duration
	// MinBackoff and MaxBackoff bound the retry delay while disconnected.
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration
	// Logger receives state changes. If nil, logging is discarded.
	Logger *log.Logger
	// Collector records connect events and upload counters. Nil-safe.
	Collector *metrics.Collector
}

// Client is a network session with the upload endpoint.
// The zero state is disconnected; Connect starts probing in the background.
type Client struct {
	config Config
	logger *log.Logger
	driver *transfer.Driver

	mu        sync.Mutex
	state     types.ConnectionState
	observers []func(Event)
	cancel    context.CancelFunc
	done      chan struct{}
	closed    bool
}

// NewClient creates a disconnected client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Sender == nil {
		return nil, errors.New("sender is required")
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = DefaultMinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = max(DefaultMaxBackoff, cfg.MinBackoff)
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.Named("session")

	return &Client{
		config: cfg,
		logger: logger,
		driver: &transfer.Driver{
			Sender:    cfg.Sender,
			BlockSize: cfg.BlockSize,
			Logger:    logger,
			Collector: cfg.Collector,
		},
		state: types.ConnectionDisconnected,
	}, nil
}

// OnEvent registers fn to be called on every state change.
// fn runs on the probe goroutine and must not block.
func (c *Client) OnEvent(fn func(Event)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() types.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the last probe succeeded.
func (c *Client) IsConnected() bool {
	return c.State() == types.ConnectionConnected
}

// Connect starts the background probe loop. It returns immediately;
// observers learn about the outcome through events. Calling Connect on a
// started client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.cancel != nil {
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.probeLoop(loopCtx)
	return nil
}

func (c *Client) probeLoop(ctx context.Context) {
	defer close(c.done)
	backoff := c.config.MinBackoff

	for {
		probeCtx, cancel := context.WithTimeout(ctx, c.config.ProbeTimeout)
		err := c.config.Sender.Probe(probeCtx)
		cancel()
		if ctx.Err() != nil {
			return
		}

		var wait time.Duration
		if err == nil {
			c.setState(types.ConnectionConnected, nil)
			backoff = c.config.MinBackoff
			wait = c.config.ProbeInterval
		} else {
			c.setState(types.ConnectionDisconnected, err)
			wait = backoff
			backoff = min(backoff*2, c.config.MaxBackoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (c *Client) setState(s types.ConnectionState, cause error) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		if cause != nil {
			c.logger.Debug("probe failed", map[string]any{"error": cause.Error()})
		}
		return
	}
	c.state = s
	observers := append([]func(Event)(nil), c.observers...)
	c.mu.Unlock()

	fields := map[string]any{"state": s.String()}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	c.logger.Info("session "+s.String(), fields)

	if s == types.ConnectionConnected {
		c.config.Collector.IncConnectEvent()
	} else {
		c.config.Collector.IncDisconnectEvent()
	}
	for _, fn := range observers {
		fn(Event{State: s, Err: cause})
	}
}

// UploadBlockwise streams src to resource on the endpoint. It fails with
// ErrNotConnected unless the session is connected. The source is not closed.
func (c *Client) UploadBlockwise(ctx context.Context, resource, contentType string, src transfer.Source) (transfer.Result, error) {
	c.mu.Lock()
	closed, state := c.closed, c.state
	c.mu.Unlock()
	if closed {
		return transfer.Result{Resource: resource}, ErrClosed
	}
	if state != types.ConnectionConnected {
		return transfer.Result{Resource: resource}, ErrNotConnected
	}

	res, err := c.driver.Upload(ctx, resource, contentType, src)
	if err != nil {
		return res, fmt.Errorf("upload %s: %w", resource, err)
	}
	return res, nil
}

// Close stops the probe loop and waits for it to exit.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}
