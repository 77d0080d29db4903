package errors

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestRetry_SucceedsAfterTransientErrors(t *testing.T) {
	// Given: a call that fails twice with a transient error
	calls := 0
	fn := func(context.Context) error {
		calls++
		if calls < 3 {
			return TransientProviderError("rate limited", nil)
		}
		return nil
	}

	// When: retrying with three attempts
	err := Retry(context.Background(), fastPolicy(3), fn)

	// Then: the third call succeeds
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		return TransientProviderError("503", nil)
	})

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, 3, calls)
	assert.True(t, IsTransient(err), "last error stays reachable")
}

func TestRetry_DoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return PermanentProviderError("invalid api key", nil)
	})

	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestRetry_CustomShouldRetry(t *testing.T) {
	p := fastPolicy(4)
	p.ShouldRetry = func(error) bool { return true }

	calls := 0
	err := Retry(context.Background(), p, func(context.Context) error {
		calls++
		return stderrors.New("plain")
	})

	assert.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestRetry_RespectsContextCancellation(t *testing.T) {
	// Given: a policy with a long backoff
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2}
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	// When: the context is cancelled while waiting
	start := time.Now()
	err := Retry(ctx, p, func(context.Context) error {
		return TransientProviderError("timeout", nil)
	})

	// Then: retry stops early
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	calls := 0
	v, err := RetryWithResult(context.Background(), fastPolicy(3), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, TransientProviderError("blip", nil)
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 800*time.Millisecond, p.Delay(3))
	assert.Equal(t, time.Second, p.Delay(10))
}

func TestRetryPolicy_ZeroAttemptsMeansOne(t *testing.T) {
	calls := 0
	_ = Retry(context.Background(), RetryPolicy{}, func(context.Context) error {
		calls++
		return TransientProviderError("x", nil)
	})
	assert.Equal(t, 1, calls)
}

func TestDefaultRetryPolicy_AtLeastThreeAttempts(t *testing.T) {
	assert.GreaterOrEqual(t, DefaultRetryPolicy().MaxAttempts, 3)
	assert.True(t, DefaultRetryPolicy().Jitter)
}
