package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xdien/cipher/internal/domain"
)

func TestRetryStrategy_SucceedsOnThirdAttempt(t *testing.T) {
	r := NewRetryStrategy(domain.RetryConfig{
		Kind:        domain.BackoffFixed,
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
	})

	attempts := 0
	state, err := r.Do(context.Background(), func(_ context.Context, attempt int) error {
		attempts++
		if attempt < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, state.Attempt)
	assert.False(t, state.GivenUp)
}

func TestRetryStrategy_GivesUpAfterMaxAttempts(t *testing.T) {
	r := NewRetryStrategy(domain.RetryConfig{
		Kind:        domain.BackoffFixed,
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
	})

	boom := errors.New("boom")
	state, err := r.Do(context.Background(), func(_ context.Context, attempt int) error {
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.True(t, state.GivenUp)
	assert.Equal(t, 3, state.Attempt)
}

func TestRetryStrategy_ExponentialDelayGrowsAndCaps(t *testing.T) {
	r := NewRetryStrategy(domain.RetryConfig{
		Kind:        domain.BackoffExponential,
		MaxAttempts: 10,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    50 * time.Millisecond,
	})

	assert.Equal(t, 10*time.Millisecond, r.delayFor(1))
	assert.Equal(t, 20*time.Millisecond, r.delayFor(2))
	assert.Equal(t, 40*time.Millisecond, r.delayFor(3))
	assert.Equal(t, 50*time.Millisecond, r.delayFor(4), "delay must cap at MaxDelay")
}

func TestRetryStrategy_StopsOnContextCancellation(t *testing.T) {
	r := NewRetryStrategy(domain.RetryConfig{
		Kind:        domain.BackoffFixed,
		MaxAttempts: 10,
		BaseDelay:   time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	boom := errors.New("boom")

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := r.Do(ctx, func(_ context.Context, attempt int) error {
		return boom
	})

	require.ErrorIs(t, err, context.Canceled)
}
