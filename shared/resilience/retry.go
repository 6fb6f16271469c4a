package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type RetryConfig struct {
	MaxAttempts       uint
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// LocalRetryConfig is used for short-lived contention inside a single
// component, such as a momentarily full queue. It must stay well below any
// caller-visible timeout.
func LocalRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      5 * time.Millisecond,
		MaxDelay:          50 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

type RetryHook interface {
	OnRetryAttempt(ctx context.Context, attempt uint, err error, nextDelay time.Duration)
	OnRetrySuccess(ctx context.Context, attempts uint, totalDuration time.Duration)
	OnRetryFailure(ctx context.Context, err error, attempts uint, totalDuration time.Duration)
}

// Retry runs op until it succeeds, returns a permanent error, or the attempt
// budget in config is spent. Hooks are notified about every attempt.
func Retry[T any](ctx context.Context, config *RetryConfig, op func() (T, error), hooks ...RetryHook) (T, error) {
	if config == nil {
		config = LocalRetryConfig()
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = config.InitialDelay
	expBackoff.MaxInterval = config.MaxDelay
	if config.BackoffMultiplier > 0 {
		expBackoff.Multiplier = config.BackoffMultiplier
	}

	var attempts uint
	start := time.Now()
	operation := func() (T, error) {
		attempts++
		return op()
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(config.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			for _, hook := range hooks {
				hook.OnRetryAttempt(ctx, attempts, err, next)
			}
		}),
	)

	elapsed := time.Since(start)
	for _, hook := range hooks {
		if err != nil {
			hook.OnRetryFailure(ctx, err, attempts, elapsed)
		} else {
			hook.OnRetrySuccess(ctx, attempts, elapsed)
		}
	}

	return result, err
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
