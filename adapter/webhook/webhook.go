// Package webhook posts upload completion events to an HTTP endpoint.
//
// Each event is sent as one JSON POST. The event key travels in the
// Idempotency-Key header and stays the same across retries; an endpoint that
// answers 409 Conflict already holds the event and the post counts as
// delivered.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/justapithecus/earshot/adapter"
	"github.com/justapithecus/earshot/iox"
	"github.com/justapithecus/earshot/log"
)

// DefaultTimeout bounds one POST.
const DefaultTimeout = 10 * time.Second

// DefaultRetries is the default number of retries after the first POST.
const DefaultRetries = adapter.DefaultRetries

// Request headers set on every POST besides Content-Type.
const (
	HeaderEventType   = "X-Event-Type"
	HeaderDeviceID    = "X-Device-Id"
	HeaderOutcome     = "X-Upload-Outcome"
	HeaderIdempotency = "Idempotency-Key"
)

// Config configures the webhook publisher.
type Config struct {
	// URL receives the POSTs. Required.
	URL string
	// Headers are added to every request, after the event headers.
	Headers map[string]string
	// Timeout bounds one POST (default DefaultTimeout).
	Timeout time.Duration
	// Retries is the number of retries after the first POST.
	Retries int
	// BaseBackoff is the first retry delay (default adapter.DefaultBaseBackoff).
	BaseBackoff time.Duration
	// Logger receives retry warnings. Optional.
	Logger *log.Logger
}

// Adapter publishes upload completion events via HTTP POST.
type Adapter struct {
	config Config
	client *http.Client
	logger *log.Logger
}

// New validates cfg and creates the publisher.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = adapter.DefaultBaseBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Discard()
	}
	return &Adapter{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("webhook"),
	}, nil
}

// Publish posts the event. 408, 429 and 5xx responses and network errors
// are retried; any other 4xx is permanent.
func (a *Adapter) Publish(ctx context.Context, event *adapter.UploadCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}
	backoff := adapter.Backoff{
		Retries: a.config.Retries,
		Base:    a.config.BaseBackoff,
		Max:     adapter.DefaultMaxBackoff,
	}
	return adapter.Deliver(ctx, "webhook", backoff, event, a.logger, func(ctx context.Context) error {
		return a.post(ctx, event, body)
	})
}

// StatusError is returned for a response that does not count as delivered.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Retriable reports whether the endpoint may accept the event later.
func (e *StatusError) Retriable() bool {
	switch {
	case e.Code == http.StatusRequestTimeout, e.Code == http.StatusTooManyRequests:
		return true
	case e.Code >= 400 && e.Code < 500:
		return false
	}
	return true
}

func (a *Adapter) post(ctx context.Context, event *adapter.UploadCompletedEvent, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(body))
	if err != nil {
		return adapter.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventType, event.EventType)
	req.Header.Set(HeaderOutcome, event.Outcome)
	req.Header.Set(HeaderIdempotency, event.Key())
	if event.DeviceID != "" {
		req.Header.Set(HeaderDeviceID, event.DeviceID)
	}
	for k, v := range a.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer iox.DiscardClose(resp.Body)
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		a.logger.Debug("endpoint already has event", map[string]any{"key": event.Key()})
		return nil
	}
	serr := &StatusError{Code: resp.StatusCode}
	if !serr.Retriable() {
		return adapter.Permanent(serr)
	}
	return serr
}

// Close releases idle connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
