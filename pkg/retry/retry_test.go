package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/pkg/runerrors"
)

// recordingSleeper captures requested delays without actually sleeping.
type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func TestBackoffSequenceAndExhaustion(t *testing.T) {
	sleeper := &recordingSleeper{}
	policy := Policy{
		MaxAttempts: 5,
		BaseDelay:   1000 * time.Millisecond,
		MaxDelay:    10000 * time.Millisecond,
		Sleep:       sleeper.sleep,
	}

	cause := errors.New("connection refused")
	attempts := 0
	_, err := DoValue(context.Background(), policy, "thread create", func(context.Context) (string, error) {
		attempts++
		return "", cause
	})

	require.Error(t, err)
	assert.Equal(t, 5, attempts)
	assert.Equal(t, []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		10000 * time.Millisecond,
	}, sleeper.delays)

	assert.True(t, runerrors.IsRetryExhausted(err))
	assert.True(t, errors.Is(err, cause))

	var classified *runerrors.Error
	require.True(t, errors.As(err, &classified))
	assert.Equal(t, "thread create", classified.Op)
	assert.Equal(t, 5, classified.Attempts)
}

func TestSucceedsAfterTransientFailures(t *testing.T) {
	sleeper := &recordingSleeper{}
	policy := Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		Sleep:       sleeper.sleep,
	}

	attempts := 0
	v, err := DoValue(context.Background(), policy, "run create", func(context.Context) (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, attempts)
	assert.Len(t, sleeper.delays, 2)
}

func TestFirstAttemptSuccessSkipsBackoff(t *testing.T) {
	sleeper := &recordingSleeper{}
	policy := Policy{MaxAttempts: 5, Sleep: sleeper.sleep}

	err := Do(context.Background(), policy, "message append", func(context.Context) error {
		return nil
	})

	require.NoError(t, err)
	assert.Empty(t, sleeper.delays)
}

func TestOnRetryHook(t *testing.T) {
	var notified []int
	var delays []time.Duration
	policy := Policy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		OnRetry: func(op string, attempt int, delay time.Duration, err error) {
			assert.Equal(t, "file upload", op)
			notified = append(notified, attempt)
			delays = append(delays, delay)
			assert.Error(t, err)
		},
		Sleep: func(context.Context, time.Duration) error { return nil },
	}

	err := Do(context.Background(), policy, "file upload", func(context.Context) error {
		return errors.New("boom")
	})

	require.Error(t, err)
	assert.Equal(t, []int{1, 2, 3}, notified)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, delays)
}

func TestContextCancellationStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
	}

	attempts := 0
	err := Do(ctx, policy, "agent retrieve", func(context.Context) error {
		attempts++
		return errors.New("transient")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, runerrors.IsRetryExhausted(err))
	assert.Equal(t, 1, attempts)
}

func TestZeroPolicyUsesDefaults(t *testing.T) {
	sleeper := &recordingSleeper{}
	policy := Policy{Sleep: sleeper.sleep}

	attempts := 0
	err := Do(context.Background(), policy, "agent retrieve", func(context.Context) error {
		attempts++
		return errors.New("down")
	})

	require.Error(t, err)
	assert.Equal(t, DefaultPolicy.MaxAttempts, attempts)
	require.Len(t, sleeper.delays, DefaultPolicy.MaxAttempts)
	assert.Equal(t, DefaultPolicy.BaseDelay, sleeper.delays[0])
	assert.Equal(t, DefaultPolicy.MaxDelay, sleeper.delays[len(sleeper.delays)-1])
}
