package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/xdien/cipher/internal/domain"
)

// RetryStrategy wraps an operation with bounded retry and a configurable
// backoff curve (fixed, linear or exponential), with optional jitter.
// Stateless across calls: each Do call owns its own RetryState.
type RetryStrategy struct {
	cfg domain.RetryConfig

	// NonRetryable classifies an error as terminal, stopping retry
	// immediately regardless of remaining attempts or budget. Nil means
	// every error is retryable.
	NonRetryable func(error) bool

	nowFn func() time.Time
}

// NewRetryStrategy constructs a strategy from the given policy.
func NewRetryStrategy(cfg domain.RetryConfig) *RetryStrategy {
	return &RetryStrategy{cfg: cfg, nowFn: time.Now}
}

// Do runs op, retrying on error up to MaxAttempts times with delays from the
// configured backoff curve. It stops early if ctx is cancelled, op succeeds,
// MaxTotalTime is exceeded, or NonRetryable classifies the error as
// terminal. Attempts are strictly sequential: no parallel retries.
func (r *RetryStrategy) Do(ctx context.Context, op func(context.Context, int) error) (domain.RetryState, error) {
	var state domain.RetryState
	start := r.now()

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		state.Attempt = attempt

		err := op(ctx, attempt)
		if err == nil {
			state.LastError = nil
			return state, nil
		}
		state.LastError = err

		if r.NonRetryable != nil && r.NonRetryable(err) {
			state.GivenUp = true
			return state, err
		}

		if attempt == r.cfg.MaxAttempts {
			state.GivenUp = true
			return state, err
		}

		delay := r.delayFor(attempt)
		if r.cfg.MaxTotalTime > 0 && r.now().Add(delay).Sub(start) > r.cfg.MaxTotalTime {
			state.GivenUp = true
			return state, err
		}
		state.LastDelay = delay

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			state.GivenUp = true
			return state, ctx.Err()
		case <-timer.C:
		}
	}

	state.GivenUp = true
	return state, state.LastError
}

func (r *RetryStrategy) now() time.Time {
	if r.nowFn != nil {
		return r.nowFn()
	}
	return time.Now()
}

// delayFor computes the delay before the given attempt's retry, per the
// configured curve, capped at MaxDelay and perturbed by Jitter.
func (r *RetryStrategy) delayFor(attempt int) time.Duration {
	multiplier := r.cfg.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2
	}

	var base float64
	switch r.cfg.Kind {
	case domain.BackoffFixed:
		base = float64(r.cfg.BaseDelay)
	case domain.BackoffLinear:
		base = float64(r.cfg.BaseDelay) * multiplier * float64(attempt)
	case domain.BackoffExponential:
		base = float64(r.cfg.BaseDelay) * math.Pow(multiplier, float64(attempt-1))
	default:
		base = float64(r.cfg.BaseDelay)
	}

	if r.cfg.Jitter > 0 {
		jitter := base * r.cfg.Jitter * (2*rand.Float64() - 1)
		base += jitter
		if base < 0 {
			base = 0
		}
	}

	if r.cfg.MaxDelay > 0 && base > float64(r.cfg.MaxDelay) {
		base = float64(r.cfg.MaxDelay)
	}

	return time.Duration(base)
}
