package scraper

import (
	"context"
	"fmt"
	"time"
)

// attemptFunc performs one try; attempt numbers start at 1.
type attemptFunc func(ctx context.Context, attempt int) error

// recoverFunc runs between a failed attempt and the next one. An error from
// it aborts the loop and is returned as-is.
type recoverFunc func(ctx context.Context, attempt int, err error) error

// retryPolicy runs an attempt up to a fixed budget, invoking a recovery
// callback between failures and optionally backing off.
type retryPolicy struct {
	attempts   int
	backoff    time.Duration
	backoffMax time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	onRetry    func(attempt int)
}

func newRetryPolicy(attempts int, backoff, backoffMax time.Duration) retryPolicy {
	return retryPolicy{
		attempts:   attempts,
		backoff:    backoff,
		backoffMax: backoffMax,
		sleep:      sleepContext,
	}
}

// Do returns nil on the first successful attempt, the recovery or context
// error if one stops the loop, and ErrRetriesExhausted wrapping the last
// attempt error otherwise.
func (p retryPolicy) Do(ctx context.Context, attempt attemptFunc, onFailure recoverFunc) error {
	attempts := p.attempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for n := 1; n <= attempts; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = attempt(ctx, n)
		if lastErr == nil {
			return nil
		}
		if n == attempts {
			break
		}

		if onFailure != nil {
			if err := onFailure(ctx, n, lastErr); err != nil {
				return err
			}
		}
		if delay := p.delay(n); delay > 0 {
			if err := p.sleep(ctx, delay); err != nil {
				return err
			}
		}
		if p.onRetry != nil {
			p.onRetry(n + 1)
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, lastErr)
}

func (p retryPolicy) delay(attempt int) time.Duration {
	if p.backoff <= 0 {
		return 0
	}
	if attempt <= 0 {
		attempt = 1
	}

	delay := p.backoff * time.Duration(1<<(attempt-1))
	if max := p.backoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
