package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/earshot/log"
)

// Delivery defaults shared by the publishers.
const (
	DefaultRetries     = 3
	DefaultBaseBackoff = 500 * time.Millisecond
	DefaultMaxBackoff  = 10 * time.Second
)

// MaxFailureRetries caps the retries of an event whose outcome is not
// success.
const MaxFailureRetries = 1

// ErrPermanent marks a delivery failure that retrying cannot fix: the
// endpoint refused the event, or the publisher is closed.
var ErrPermanent = errors.New("permanent delivery failure")

// Permanent wraps err so that Deliver stops retrying.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Backoff is a capped exponential retry schedule.
type Backoff struct {
	// Retries is the number of attempts after the first.
	Retries int
	// Base is the delay before the first retry; it doubles per retry.
	Base time.Duration
	// Max caps a single delay. Zero means uncapped.
	Max time.Duration
}

// Delay returns the wait before retry n (n >= 1).
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		return 0
	}
	d := b.Base
	for range n - 1 {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Deliver calls send until it succeeds, returns a Permanent error, the
// retries are used up, or ctx ends. Events for failed cycles are retried at
// most MaxFailureRetries times. Every retry is logged with the event's
// upload figures.
func Deliver(ctx context.Context, name string, b Backoff, event *UploadCompletedEvent, logger *log.Logger, send func(context.Context) error) error {
	if logger == nil {
		logger = log.Discard()
	}
	retries := b.Retries
	if !event.Succeeded() {
		retries = min(retries, MaxFailureRetries)
	}
	attempts := 1 + retries

	var lastErr error
	for i := range attempts {
		if i > 0 {
			delay := b.Delay(i)
			logger.Warn("retrying completion event", map[string]any{
				"adapter":  name,
				"key":      event.Key(),
				"outcome":  event.Outcome,
				"blocks":   event.Blocks,
				"bytes":    event.Bytes,
				"attempt":  i + 1,
				"delay_ms": delay.Milliseconds(),
				"error":    lastErr.Error(),
			})
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s: canceled during backoff: %w", name, ctx.Err())
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}

		lastErr = send(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrPermanent) {
			return fmt.Errorf("%s: %w", name, lastErr)
		}
	}
	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
