package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memeflow/types"
)

// Policy defines the retry policy for upstream calls.
type Policy struct {
	MaxRetries   int           // maximum retries after the first attempt (0 = no retry)
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // cap on the computed delay
	Multiplier   float64       // exponential growth factor
	Jitter       bool          // add ±25% random jitter to each delay

	// RetryIf classifies errors as transient. Defaults to
	// types.IsRetryable, so only errors the clients flagged as
	// retryable (UPSTREAM_UNAVAILABLE, UPSTREAM_TIMEOUT) are retried.
	RetryIf func(error) bool

	// OnRetry is invoked before each retry sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns the retry policy used for remote generation and
// moderation calls: 2 retries, 500ms base delay doubling up to 5s.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer executes a function with retries according to a Policy.
type Retryer interface {
	Do(ctx context.Context, fn func() error) error
	DoWithResult(ctx context.Context, fn func() (any, error)) (any, error)
}

// SleepFunc waits for the given delay or until the context is cancelled.
type SleepFunc func(ctx context.Context, d time.Duration) error

func realSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

type backoffRetryer struct {
	policy *Policy
	sleep  SleepFunc
	logger *zap.Logger
}

// NewBackoffRetryer creates an exponential backoff retryer.
func NewBackoffRetryer(policy *Policy, logger *zap.Logger) Retryer {
	return newBackoffRetryer(policy, realSleep, logger)
}

// NewBackoffRetryerWithSleep creates a retryer with an injected sleep
// function. Tests use this to observe the backoff curve without waiting.
func NewBackoffRetryerWithSleep(policy *Policy, sleep SleepFunc, logger *zap.Logger) Retryer {
	return newBackoffRetryer(policy, sleep, logger)
}

func newBackoffRetryer(policy *Policy, sleep SleepFunc, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 500 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 5 * time.Second
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 2.0
	}
	if policy.RetryIf == nil {
		policy.RetryIf = types.IsRetryable
	}
	if sleep == nil {
		sleep = realSleep
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &backoffRetryer{policy: policy, sleep: sleep, logger: logger}
}

// Do implements Retryer.Do.
func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	_, err := r.DoWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

// DoWithResult runs fn with an explicit attempt loop: first attempt
// immediately, then up to MaxRetries further attempts separated by
// exponentially growing delays.
func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	var lastErr error
	var result any

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.calculateDelay(attempt)

			r.logger.Debug("retrying upstream call",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			if err := r.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("retry cancelled: %w", err)
			}
		}

		result, lastErr = fn()
		if lastErr == nil {
			if attempt > 0 {
				r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, nil
		}

		if !r.policy.RetryIf(lastErr) {
			return nil, lastErr
		}

		if attempt >= r.policy.MaxRetries {
			break
		}
	}

	r.logger.Warn("retries exhausted",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)

	return nil, lastErr
}

// calculateDelay computes the backoff delay for the given attempt:
// initial * multiplier^(attempt-1), capped at MaxDelay, with optional
// ±25% jitter to avoid synchronized retries across requests.
func (r *backoffRetryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))

	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}

	if r.policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}
