package domain

import "time"

const (
	BreakerPhaseStringClosed   = "closed"
	BreakerPhaseStringOpen     = "open"
	BreakerPhaseStringHalfOpen = "half_open"
)

// BreakerPhase is the circuit breaker's current admission phase.
type BreakerPhase string

const (
	BreakerClosed   BreakerPhase = BreakerPhaseStringClosed
	BreakerOpen     BreakerPhase = BreakerPhaseStringOpen
	BreakerHalfOpen BreakerPhase = BreakerPhaseStringHalfOpen
)

func (p BreakerPhase) String() string {
	return string(p)
}

// BreakerEvent is a timestamped closed-window observation: a success or a
// failure recorded while the breaker was closed.
type BreakerEvent struct {
	At      time.Time
	Success bool
}

// CircuitBreakerState is owned exclusively by its enclosing Connection.
type CircuitBreakerState struct {
	Phase               BreakerPhase
	ConsecutiveFailures int
	SuccessesInHalfOpen int
	OpenedAt            time.Time
	RollingWindow       []BreakerEvent
}

// CircuitBreakerConfig is the tunable policy for one breaker instance.
// Default policy per server: 5/60000/30000/2/60000/5.
type CircuitBreakerConfig struct {
	FailureThreshold   int
	ResetTimeoutMs     int
	OperationTimeoutMs int
	SuccessThreshold   int
	RollingWindowMs    int
	MinimumOperations  int
}

// DefaultCircuitBreakerConfig mirrors the spec's stated default policy.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:   5,
		ResetTimeoutMs:     60000,
		OperationTimeoutMs: 30000,
		SuccessThreshold:   2,
		RollingWindowMs:    60000,
		MinimumOperations:  5,
	}
}

const (
	BackoffStringFixed       = "fixed"
	BackoffStringLinear      = "linear"
	BackoffStringExponential = "exponential"
)

// BackoffKind selects the retry strategy's delay growth curve.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = BackoffStringFixed
	BackoffLinear      BackoffKind = BackoffStringLinear
	BackoffExponential BackoffKind = BackoffStringExponential
)

func (k BackoffKind) String() string {
	return string(k)
}

// RetryState tracks one in-flight retry sequence.
type RetryState struct {
	Attempt   int
	LastDelay time.Duration
	LastError error
	GivenUp   bool
}

// RetryConfig is the tunable policy for a retry strategy instance. Delay for
// attempt n (1-indexed): base = Kind(BaseDelay, n, BackoffMultiplier),
// jittered = base * (1 + U(-Jitter, +Jitter)), delay = min(jittered, MaxDelay).
type RetryConfig struct {
	Kind              BackoffKind
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            float64
	MaxTotalTime      time.Duration
}

// DefaultRetryConfig mirrors the fleet's conservative exponential-backoff
// default: three attempts, 500ms base, 2x multiplier, capped at 10s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Kind:              BackoffExponential,
		MaxAttempts:       3,
		BaseDelay:         500 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2,
		Jitter:            0.2,
	}
}
