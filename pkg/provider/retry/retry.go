// Package retry applies the engine's backoff policies around provider
// calls, classifying errors as retryable or terminal before counting
// against a task's attempt budget.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/gleitzeit/gleitzeit/pkg/errors"
	"github.com/gleitzeit/gleitzeit/pkg/task"
)

// DefaultPolicy is used when a task declares no retry policy of its own.
func DefaultPolicy() task.RetryPolicy {
	return task.RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
		Strategy:     task.RetryExponential,
		Jitter:       true,
	}
}

// Classifier partitions errors the same way pkg/errors.ErrorClassifier
// does; Execute prefers the error's own classification when it implements
// the interface, falling back to a conservative non-retryable default.
type Classifier = errors.ErrorClassifier

// Attempt is the function Execute calls once per try.
type Attempt func(ctx context.Context, attempt int) (interface{}, error)

// Limiter optionally throttles how fast Execute issues calls against a
// single provider instance, independent of the backoff between retries of
// one task — e.g. a provider with a known requests-per-second ceiling.
type Limiter = *rate.Limiter

// NewLimiter builds a token-bucket limiter allowing ratePerSecond calls
// with a burst of burst.
func NewLimiter(ratePerSecond float64, burst int) Limiter {
	return rate.NewLimiter(rate.Limit(ratePerSecond), burst)
}

// Execute runs fn up to policy.MaxAttempts times, sleeping between
// attempts per policy.Strategy, stopping early on a non-retryable error or
// context cancellation. If limiter is non-nil, each attempt (including the
// first) waits for a token before calling fn.
func Execute(ctx context.Context, policy task.RetryPolicy, limiter Limiter, fn Attempt) (interface{}, int, error) {
	if policy.MaxAttempts <= 0 {
		policy = DefaultPolicy()
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, attempt, err
			}
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		if !isRetryable(err) || attempt >= policy.MaxAttempts {
			return nil, attempt, err
		}

		delay := backoffFor(policy, attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		}
	}
	return nil, policy.MaxAttempts, lastErr
}

func isRetryable(err error) bool {
	var classifier Classifier
	if errorsAs(err, &classifier) {
		return classifier.IsRetryable()
	}
	return false
}

// errorsAs is a tiny indirection so this file only imports the stdlib
// errors semantics through pkg/errors.As, matching the rest of the module.
func errorsAs(err error, target *Classifier) bool {
	return errors.As(err, target)
}

func backoffFor(policy task.RetryPolicy, attempt int) time.Duration {
	var base time.Duration
	switch policy.Strategy {
	case task.RetryLinear:
		base = time.Duration(int64(policy.InitialDelay) * int64(attempt))
	case task.RetryExponential:
		mult := policy.Multiplier
		if mult <= 0 {
			mult = 2.0
		}
		base = time.Duration(float64(policy.InitialDelay) * math.Pow(mult, float64(attempt-1)))
	default: // fixed
		base = policy.InitialDelay
	}

	if policy.MaxDelay > 0 && base > policy.MaxDelay {
		base = policy.MaxDelay
	}

	if policy.Jitter {
		base = time.Duration(rand.Int63n(int64(base) + 1))
	}
	return base
}
