package bybit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ducminhle1904/martingale-ladder-bot/internal/exchange"
)

// RetryPolicy controls how failed API calls are retried
type RetryPolicy struct {
	MaxAttempts int           // Total attempts including the first one
	BaseDelay   time.Duration // Delay before the first retry
	MaxDelay    time.Duration // Cap for the exponential backoff
}

// DefaultRetryPolicy returns conservative retry settings for live trading
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// delayFor computes the backoff for a given attempt (0-based).
// Rate-limit errors always back off exponentially from the base delay.
func (p RetryPolicy) delayFor(attempt int) time.Duration {
	delay := p.BaseDelay * (1 << uint(attempt))
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// withRetry runs fn, retrying retryable errors with exponential backoff.
// Non-retryable errors (auth failures, order-not-found, validation) are
// returned immediately.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retry.delayFor(attempt - 1)):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !exchange.IsRetryable(lastErr) {
			return lastErr
		}
		if errors.Is(lastErr, exchange.ErrRateLimited) {
			// Rate limits need more breathing room than transient hiccups
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retry.delayFor(attempt)):
			}
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, c.retry.MaxAttempts, lastErr)
}
