package transitmon

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

const (
	DefaultRetryAttempts = 5
	DefaultRetryBase     = 1 * time.Second
	DefaultRetryMax      = 10 * time.Second
)

// Wraps remote calls with bounded exponential backoff and full
// jitter: before retry n, sleep min(MaxDelay, BaseDelay*2^n) scaled
// by a random factor in [0, 1). After MaxAttempts failures the last
// error is returned as-is. Every error is treated as retryable.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Logger      *slog.Logger

	// Overridable in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  func() float64
}

func NewRetryPolicy(logger *slog.Logger) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultRetryAttempts,
		BaseDelay:   DefaultRetryBase,
		MaxDelay:    DefaultRetryMax,
		Logger:      logger,
	}
}

func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultRetryBase
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultRetryMax
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	random := p.Rand
	if random == nil {
		random = rand.Float64
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := fn(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == maxAttempts-1 {
			break
		}

		delay := base << attempt
		if delay > maxDelay {
			delay = maxDelay
		}
		delay = time.Duration(float64(delay) * random())

		p.Logger.Debug("retrying after backoff",
			"attempt", attempt+1,
			"delay", delay,
			"error", lastErr)

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}

	return lastErr
}

// Retry wraps a call with a return value. The policy never inspects
// the value; it only sees success or failure.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := p.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
