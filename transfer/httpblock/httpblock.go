// Package httpblock implements a blockwise upload transport over HTTP.
//
// Each block is sent as one PUT {endpoint}/{resource} request carrying the
// block index, the negotiated block size and whether more blocks follow.
// Retries with exponential backoff on 5xx responses and network errors;
// 4xx responses are non-retriable.
package httpblock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/justapithecus/earshot/iox"
	"github.com/justapithecus/earshot/transfer"
)

// Block headers.
const (
	HeaderIndex    = "X-Block-Index"
	HeaderSize     = "X-Block-Size"
	HeaderMore     = "X-Block-More"
	HeaderDeviceID = "X-Device-Id"
)

// HealthPath is probed by Probe.
const HealthPath = "/healthz"

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 10 * time.Second

// DefaultRetries is the default number of retry attempts per block.
const DefaultRetries = 3

// Config configures the sender.
type Config struct {
	// Endpoint is the base URL blocks are PUT under (required).
	Endpoint string
	// DeviceID is sent with every block.
	DeviceID string
	// Headers are custom HTTP headers added to each request.
	Headers map[string]string
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// Retries is the number of retry attempts per block.
	Retries int
	// BaseBackoff is the first retry delay, doubled per attempt (default 500ms).
	BaseBackoff time.Duration
}

// Sender uploads blocks via HTTP PUT.
type Sender struct {
	config Config
	base   *url.URL
	client *http.Client
}

// New creates a sender from cfg.
func New(cfg Config) (*Sender, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("httpblock sender requires an endpoint")
	}
	base, err := url.Parse(strings.TrimRight(cfg.Endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("httpblock: invalid endpoint: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("httpblock: endpoint scheme must be http or https, got %q", base.Scheme)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}

	return &Sender{
		config: cfg,
		base:   base,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Retriable reports whether a retry may succeed.
func (e *StatusError) Retriable() bool {
	return e.Code >= 500
}

// Probe issues GET {endpoint}/healthz and expects 2xx.
func (s *Sender) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base.String()+HealthPath, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return s.do(req)
}

// Begin implements transfer.Sender. No request is made until the first block.
func (s *Sender) Begin(_ context.Context, resource, contentType string, blockSize int) (transfer.Stream, error) {
	if resource == "" || strings.ContainsAny(resource, `/\`) {
		return nil, fmt.Errorf("httpblock: invalid resource name %q", resource)
	}
	return &stream{
		sender:      s,
		target:      s.base.String() + "/" + url.PathEscape(resource),
		contentType: contentType,
		blockSize:   blockSize,
	}, nil
}

// Close releases idle connections.
func (s *Sender) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

type stream struct {
	sender      *Sender
	target      string
	contentType string
	blockSize   int
}

// SendBlock PUTs one block, retrying transient failures.
func (st *stream) SendBlock(ctx context.Context, index uint64, data []byte, last bool) error {
	cfg := st.sender.config
	var lastErr error
	// attempts = 1 initial + retries
	attempts := 1 + cfg.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("httpblock: context canceled: %w", err)
		}

		// Exponential backoff before retries (not before first attempt)
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * cfg.BaseBackoff
			select {
			case <-ctx.Done():
				return fmt.Errorf("httpblock: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = st.put(ctx, index, data, last)
		if lastErr == nil {
			return nil
		}

		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && !statusErr.Retriable() {
			return fmt.Errorf("httpblock: non-retriable error: %w", lastErr)
		}
	}

	return fmt.Errorf("httpblock: block %d failed after %d attempts: %w", index, attempts, lastErr)
}

func (st *stream) put(ctx context.Context, index uint64, data []byte, last bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, st.target, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", st.contentType)
	req.Header.Set(HeaderIndex, strconv.FormatUint(index, 10))
	req.Header.Set(HeaderSize, strconv.Itoa(st.blockSize))
	req.Header.Set(HeaderMore, strconv.FormatBool(!last))
	return st.sender.do(req)
}

// Commit is a no-op: the block marked last completes the object.
func (st *stream) Commit(context.Context) error { return nil }

// Abort sends DELETE {endpoint}/{resource} so the receiver drops partial state.
func (st *stream) Abort(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, st.target, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return st.sender.do(req)
}

// do performs a single request and returns nil on 2xx.
func (s *Sender) do(req *http.Request) error {
	if id := s.config.DeviceID; id != "" {
		req.Header.Set(HeaderDeviceID, id)
	}
	for k, v := range s.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	// Drain the rest to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return nil
}

// Verify Sender implements the transfer interface.
var _ transfer.Sender = (*Sender)(nil)
