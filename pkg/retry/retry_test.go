package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "taskflow/pkg/errors"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustedReturnsLastError(t *testing.T) {
	sentinel := errors.New("still down")
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func() error {
		calls++
		return sentinel
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestRetry_FatalErrorStopsImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "fatal wrapper", err: NewFatalError(errors.New("bad request"))},
		{name: "non-retryable coded error", err: apperrors.ErrValidation.WithMessage("bad input")},
		{name: "coded error marked fatal", err: apperrors.ErrExtraction.AsFatal()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Retry(context.Background(), fastPolicy(5), func() error {
				calls++
				return tt.err
			})
			assert.Equal(t, 1, calls)
			assert.Equal(t, tt.err, err)
		})
	}
}

func TestRetryWithCallback_ReportsAttempts(t *testing.T) {
	var attempts []int
	var delays []time.Duration

	err := RetryWithCallback(context.Background(), fastPolicy(3), func() error {
		return apperrors.ErrConnection
	}, func(attempt int, err error, next time.Duration) {
		attempts = append(attempts, attempt)
		delays = append(delays, next)
		assert.True(t, apperrors.IsConnection(err))
	})

	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{MaxAttempts: 5, InitialInterval: time.Hour, MaxInterval: time.Hour, Multiplier: 1}

	calls := 0
	err := Retry(ctx, policy, func() error {
		calls++
		cancel()
		return errors.New("down")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestConnectPolicy_Delays(t *testing.T) {
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, ConnectPolicy().Delays())
}

func TestCalculateBackoffDuration(t *testing.T) {
	assert.Equal(t, time.Second, CalculateBackoffDuration(1, time.Second, 2, time.Minute))
	assert.Equal(t, 4*time.Second, CalculateBackoffDuration(3, time.Second, 2, time.Minute))
	assert.Equal(t, 10*time.Second, CalculateBackoffDuration(10, time.Second, 2, 10*time.Second))
}
