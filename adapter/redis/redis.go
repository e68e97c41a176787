// Package redis publishes upload completion events on Redis pub/sub.
//
// Events go to one shared channel, or with PerDevice to
// "<channel>:<device_id>" so a consumer can follow a single device.
// Connection failures and busy-server replies are retried; any other error
// reply from the server is permanent.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/justapithecus/earshot/adapter"
	"github.com/justapithecus/earshot/log"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "earshot:upload_completed"

// DefaultTimeout bounds one PUBLISH.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retries after the first PUBLISH.
const DefaultRetries = adapter.DefaultRetries

// busyReplies are error reply prefixes of a server that will accept the
// command once it recovers.
var busyReplies = []string{"LOADING", "BUSY", "TRYAGAIN", "MASTERDOWN", "CLUSTERDOWN"}

// Config configures the Redis publisher.
type Config struct {
	// URL is the Redis connection URL, redis://[:password@]host:port[/db]. Required.
	URL string
	// Channel is the pub/sub channel (default DefaultChannel).
	Channel string
	// PerDevice appends ":<device_id>" to the channel for every event.
	PerDevice bool
	// Timeout bounds one PUBLISH (default DefaultTimeout).
	Timeout time.Duration
	// Retries is the number of retries after the first PUBLISH.
	Retries int
	// BaseBackoff is the first retry delay (default adapter.DefaultBaseBackoff).
	BaseBackoff time.Duration
	// Logger receives retry warnings. Optional.
	Logger *log.Logger
}

// Adapter publishes upload completion events via Redis PUBLISH.
type Adapter struct {
	config Config
	client *goredis.Client
	logger *log.Logger
}

// New validates cfg and creates the publisher. No connection is made
// until the first Publish.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
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
		client: goredis.NewClient(opts),
		logger: logger.Named("redis"),
	}, nil
}

// ChannelFor returns the channel event is published to.
func (a *Adapter) ChannelFor(event *adapter.UploadCompletedEvent) string {
	if a.config.PerDevice && event.DeviceID != "" {
		return a.config.Channel + ":" + event.DeviceID
	}
	return a.config.Channel
}

// Publish sends the event as JSON to its channel.
func (a *Adapter) Publish(ctx context.Context, event *adapter.UploadCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	channel := a.ChannelFor(event)
	backoff := adapter.Backoff{
		Retries: a.config.Retries,
		Base:    a.config.BaseBackoff,
		Max:     adapter.DefaultMaxBackoff,
	}
	return adapter.Deliver(ctx, "redis "+channel, backoff, event, a.logger, func(ctx context.Context) error {
		pctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()

		receivers, err := a.client.Publish(pctx, channel, body).Result()
		if err != nil {
			return classify(err)
		}
		if receivers == 0 {
			a.logger.Debug("no subscribers for completion event", map[string]any{
				"channel": channel,
				"key":     event.Key(),
			})
		}
		return nil
	})
}

// classify marks errors that a retry cannot fix as permanent.
func classify(err error) error {
	if errors.Is(err, goredis.ErrClosed) {
		return adapter.Permanent(err)
	}
	var reply goredis.Error
	if errors.As(err, &reply) {
		msg := reply.Error()
		for _, prefix := range busyReplies {
			if strings.HasPrefix(msg, prefix) {
				return err
			}
		}
		return adapter.Permanent(err)
	}
	return err
}

// Close closes the connection pool.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
