// Package retry provides the exponential-backoff wrapper applied to remote agent API calls.
package retry

import (
	"context"
	"math"
	"time"

	"conductor/pkg/runerrors"
)

// Policy defines configuration for retry behavior.
type Policy struct {
	MaxAttempts int           // Total attempts before giving up
	BaseDelay   time.Duration // Delay after the first failed attempt
	MaxDelay    time.Duration // Cap on the backoff delay

	// OnRetry, when set, is called after each failed attempt with the
	// operation name, the 1-based attempt number, the delay about to be
	// slept, and the attempt's error.
	OnRetry func(op string, attempt int, delay time.Duration, err error)

	// Sleep replaces the context-aware sleep in tests. Nil means real sleeping.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy matches the remote API budget: five attempts, 1s doubling to a 10s cap.
var DefaultPolicy = Policy{
	MaxAttempts: 5,
	BaseDelay:   1 * time.Second,
	MaxDelay:    10 * time.Second,
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultPolicy.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultPolicy.MaxDelay
	}
	if p.Sleep == nil {
		p.Sleep = ctxSleep
	}
	return p
}

// delay computes the backoff for the given 0-based attempt index.
func (p Policy) delay(attempt int) time.Duration {
	d := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt)))
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// DoValue runs fn under the policy and returns its value. Every failed attempt
// is followed by a backoff sleep; once the attempt budget is spent the last
// error is returned wrapped in a retry-exhaustion failure. Context
// cancellation interrupts the sleep and surfaces ctx.Err().
func DoValue[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var zero T
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		delay := p.delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(op, attempt+1, delay, err)
		}
		if sleepErr := p.Sleep(ctx, delay); sleepErr != nil {
			return zero, sleepErr
		}
	}

	return zero, runerrors.NewRetryExhausted(op, p.MaxAttempts, lastErr)
}

// Do runs an effect-only operation under the policy.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
