// Package resilience provides the stateless composition wrappers that add
// failure counting and bounded retry to any async operation: CircuitBreaker
// and RetryStrategy.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/xdien/cipher/internal/domain"
)

// CircuitBreaker wraps a single operation with closed/open/half-open
// admission control. One breaker belongs to exactly one Connection; it is
// not keyed by name the way an HTTP-endpoint breaker would be, since each
// connection already owns its own instance.
type CircuitBreaker struct {
	mu    sync.Mutex
	cfg   domain.CircuitBreakerConfig
	state domain.CircuitBreakerState
	nowFn func() time.Time
}

// NewCircuitBreaker constructs a breaker in the closed state with the given
// policy.
func NewCircuitBreaker(cfg domain.CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		cfg: cfg,
		state: domain.CircuitBreakerState{
			Phase: domain.BreakerClosed,
		},
		nowFn: time.Now,
	}
}

// Snapshot returns a copy of the breaker's current state for observability.
func (cb *CircuitBreaker) Snapshot() domain.CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	window := make([]domain.BreakerEvent, len(cb.state.RollingWindow))
	copy(window, cb.state.RollingWindow)
	snap := cb.state
	snap.RollingWindow = window
	return snap
}

// Phase returns the breaker's current phase without copying the window.
func (cb *CircuitBreaker) Phase() domain.BreakerPhase {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.Phase
}

// Execute runs op under the breaker's admission policy. If the breaker is
// open and the reset timeout has not elapsed, op is never invoked and a
// CircuitOpenError is returned immediately (I4).
func (cb *CircuitBreaker) Execute(ctx context.Context, server, operation string, op func(context.Context) error) error {
	if err := cb.admit(server, operation); err != nil {
		return err
	}

	opCtx := ctx
	var cancel context.CancelFunc
	if cb.cfg.OperationTimeoutMs > 0 {
		opCtx, cancel = context.WithTimeout(ctx, time.Duration(cb.cfg.OperationTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	err := op(opCtx)
	cb.record(err == nil)
	return err
}

// admit decides whether a call may proceed, transitioning open→half_open
// when the reset timeout has elapsed.
func (cb *CircuitBreaker) admit(server, operation string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state.Phase {
	case domain.BreakerClosed:
		return nil
	case domain.BreakerHalfOpen:
		return nil
	case domain.BreakerOpen:
		resetAt := cb.state.OpenedAt.Add(time.Duration(cb.cfg.ResetTimeoutMs) * time.Millisecond)
		if cb.nowFn().Before(resetAt) {
			return &domain.CircuitOpenError{Server: server, Operation: operation, OpenedAt: cb.state.OpenedAt}
		}
		cb.state.Phase = domain.BreakerHalfOpen
		cb.state.SuccessesInHalfOpen = 0
		return nil
	default:
		return nil
	}
}

// record folds one call outcome into the breaker's state per the phase
// transition rules in spec §4.2.
func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.nowFn()

	switch cb.state.Phase {
	case domain.BreakerHalfOpen:
		if !success {
			cb.state.Phase = domain.BreakerOpen
			cb.state.OpenedAt = now
			cb.state.SuccessesInHalfOpen = 0
			return
		}
		cb.state.SuccessesInHalfOpen++
		if cb.state.SuccessesInHalfOpen >= cb.cfg.SuccessThreshold {
			cb.state.Phase = domain.BreakerClosed
			cb.state.ConsecutiveFailures = 0
			cb.state.SuccessesInHalfOpen = 0
			cb.state.RollingWindow = nil
		}
	case domain.BreakerClosed:
		cb.pruneWindow(now)
		cb.state.RollingWindow = append(cb.state.RollingWindow, domain.BreakerEvent{At: now, Success: success})

		if success {
			cb.state.ConsecutiveFailures = 0
			return
		}

		cb.state.ConsecutiveFailures++
		if cb.state.ConsecutiveFailures >= cb.cfg.FailureThreshold && len(cb.state.RollingWindow) >= cb.cfg.MinimumOperations {
			cb.state.Phase = domain.BreakerOpen
			cb.state.OpenedAt = now
		}
	}
}

// pruneWindow drops events older than the rolling window duration.
func (cb *CircuitBreaker) pruneWindow(now time.Time) {
	cutoff := now.Add(-time.Duration(cb.cfg.RollingWindowMs) * time.Millisecond)
	kept := cb.state.RollingWindow[:0]
	for _, ev := range cb.state.RollingWindow {
		if ev.At.After(cutoff) {
			kept = append(kept, ev)
		}
	}
	cb.state.RollingWindow = kept
}
