package review

import (
	"context"
	"time"

	"github.com/aschepis/backscratcher/review/llm"
	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultMaxRetry is the number of attempts made when a request sets none.
	DefaultMaxRetry = 2
	// DefaultRetryBackoff is the pause after a failed attempt that was not a
	// parse failure.
	DefaultRetryBackoff = 60 * time.Second
)

// RetryPolicy bounds the attempts made by GetLLMResponse.
type RetryPolicy struct {
	MaxRetry int           `yaml:"max_retry"`
	Backoff  time.Duration `yaml:"backoff"`
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetry: DefaultMaxRetry, Backoff: DefaultRetryBackoff}
}

// newBackOff creates the delay schedule for one request.
func (p RetryPolicy) newBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(p.Backoff)
}

// retryDelay picks the pause before the next attempt. Parse failures retry
// immediately. A vendor's Retry-After wins when it is longer than the schedule.
func retryDelay(b backoff.BackOff, err error) time.Duration {
	if llm.IsParseError(err) {
		return 0
	}
	delay := b.NextBackOff()
	if delay == backoff.Stop {
		delay = 0
	}
	if retryAfter := llm.ExtractRetryAfter(err); retryAfter != nil && *retryAfter > delay {
		delay = *retryAfter
	}
	return delay
}

// WaitForRetry waits for the specified delay, respecting context cancellation
func WaitForRetry(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
