package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// OverloadedError is returned when the backend kept signalling overload or
// rate limiting until the retry budget ran out.
type OverloadedError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *OverloadedError) Error() string {
	return fmt.Sprintf("%s overloaded after %d attempts: %v", e.Provider, e.Attempts, e.Err)
}

func (e *OverloadedError) Unwrap() error { return e.Err }

// QuotaExhaustedError is returned without retrying when the backend asks
// for a cooldown longer than the policy tolerates.
type QuotaExhaustedError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *QuotaExhaustedError) Error() string {
	return fmt.Sprintf("%s quota exhausted (retry after %s): %v", e.Provider, e.RetryAfter, e.Err)
}

func (e *QuotaExhaustedError) Unwrap() error { return e.Err }

// Classification is what a backend adapter reports about a failed call.
type Classification struct {
	Retryable bool
	// Cooldown is the wait the backend asked for, zero when unspecified.
	Cooldown time.Duration
}

// RetryPolicy retries overload and rate-limit failures with exponential
// backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxCooldown time.Duration
	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait.
	OnRetry func(provider string, attempt int, delay time.Duration)
}

// DefaultRetryPolicy is 3 attempts, 2s doubling, 120s cooldown ceiling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxCooldown: 120 * time.Second,
		Sleep:       SleepContext,
	}
}

// SleepContext waits for d or until ctx is cancelled.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs call until it succeeds, fails with a non-retryable error, or the
// attempts are used up.
func (p RetryPolicy) Do(ctx context.Context, provider string, call func(ctx context.Context) error, classify func(error) Classification) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	for attempt := 1; ; attempt++ {
		err := call(ctx)
		if err == nil {
			return nil
		}
		c := classify(err)
		if !c.Retryable {
			return err
		}
		if p.MaxCooldown > 0 && c.Cooldown > p.MaxCooldown {
			return &QuotaExhaustedError{Provider: provider, RetryAfter: c.Cooldown, Err: err}
		}
		if attempt >= attempts {
			return &OverloadedError{Provider: provider, Attempts: attempt, Err: err}
		}

		delay := c.Cooldown
		if delay <= 0 {
			delay = p.BaseDelay << (attempt - 1)
		}
		slog.Warn("AI provider overloaded, retrying", "provider", provider, "attempt", attempt, "delay", delay, "error", err)
		if p.OnRetry != nil {
			p.OnRetry(provider, attempt, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}
