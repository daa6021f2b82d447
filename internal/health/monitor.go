// Package health implements the Health Monitor: a periodic liveness probe
// loop, one instance per Connection, reporting transitions through an
// events.Sink rather than a shared collector.
package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/xdien/cipher/internal/domain"
	"github.com/xdien/cipher/internal/events"
)

// Config is the tunable policy for one monitor instance.
type Config struct {
	Enabled                bool
	Interval               time.Duration
	Timeout                time.Duration
	MaxConsecutiveFailures int
	GracePeriod            time.Duration
}

// DefaultConfig mirrors sane defaults for a per-connection liveness probe.
func DefaultConfig() Config {
	return Config{
		Enabled:                true,
		Interval:               30 * time.Second,
		Timeout:                5 * time.Second,
		MaxConsecutiveFailures: 3,
		GracePeriod:            10 * time.Second,
	}
}

// Prober is the trivial operation probed on each tick. Connection
// satisfies this by routing PerformHealthCheck through its circuit breaker.
type Prober interface {
	PerformHealthCheck(ctx context.Context) error
}

// Monitor runs one probe loop against one Prober, classifying outcomes into
// healthy/degraded/unhealthy/recovered events.
type Monitor struct {
	cfg    Config
	server string
	probe  Prober
	sink   events.Sink

	mu       sync.Mutex
	snapshot domain.HealthSnapshot

	startedAt time.Time
	nowFn     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New constructs a Monitor for one server's Prober. The caller decides when
// Start runs; a disabled config makes Start a no-op that immediately closes
// done.
func New(server string, probe Prober, cfg Config, sink events.Sink) *Monitor {
	if sink == nil {
		sink = events.NoopSink{}
	}
	return &Monitor{
		cfg:      cfg,
		server:   server,
		probe:    probe,
		sink:     sink,
		snapshot: domain.HealthSnapshot{Server: server, Healthy: true},
		nowFn:    time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the background probe loop. Safe to call at most once.
func (m *Monitor) Start(ctx context.Context) {
	if !m.cfg.Enabled {
		close(m.done)
		return
	}
	m.startedAt = m.nowFn()
	go m.loop(ctx)
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick runs one probe, catching a probe panic so it degrades the connection
// instead of taking down the monitor loop.
func (m *Monitor) tick(ctx context.Context) {
	var catcher panics.Catcher
	catcher.Try(func() {
		m.probeOnce(ctx)
	})
	if recovered := catcher.Recovered(); recovered != nil {
		m.mu.Lock()
		m.snapshot.ConsecutiveFailures++
		m.snapshot.LastError = recovered.AsError()
		m.snapshot.ErrorKind = domain.HealthErrorProtocol
		m.snapshot.LastCheckedAt = m.nowFn()
		snap := m.snapshot
		m.mu.Unlock()
		m.sink.Emit(events.Event{Kind: events.KindUnhealthy, Server: m.server, At: snap.LastCheckedAt, Detail: map[string]any{
			"panic": recovered.AsError().Error(),
		}})
	}
}

func (m *Monitor) probeOnce(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	start := m.nowFn()
	err := m.probe.PerformHealthCheck(probeCtx)
	latency := m.nowFn().Sub(start)
	now := m.nowFn()

	m.mu.Lock()
	prevHealthy := m.snapshot.Healthy
	if err != nil {
		m.snapshot.ConsecutiveFailures++
		m.snapshot.LastError = err
		m.snapshot.ErrorKind = classify(err)
	} else {
		m.snapshot.ConsecutiveFailures = 0
		m.snapshot.LastError = nil
		m.snapshot.ErrorKind = domain.HealthErrorNone
	}
	m.snapshot.LastCheckedAt = now
	m.snapshot.LastLatency = latency

	nextHealthy := prevHealthy
	switch {
	case err == nil:
		nextHealthy = true
	case now.Sub(m.startedAt) < m.cfg.GracePeriod:
		// within grace period, do not flip state on early failures
	case m.snapshot.ConsecutiveFailures >= m.cfg.MaxConsecutiveFailures:
		nextHealthy = false
	}
	m.snapshot.Healthy = nextHealthy
	snap := m.snapshot
	m.mu.Unlock()

	m.emitTransition(prevHealthy, nextHealthy, err, snap)
}

func (m *Monitor) emitTransition(prevHealthy, nextHealthy bool, err error, snap domain.HealthSnapshot) {
	var kind events.Kind
	switch {
	case err == nil && !prevHealthy:
		kind = events.KindRecovered
	case err == nil:
		kind = events.KindHealthy
	case nextHealthy:
		kind = events.KindDegraded
	default:
		kind = events.KindUnhealthy
	}

	detail := map[string]any{"consecutiveFailures": snap.ConsecutiveFailures}
	if err != nil {
		detail["error"] = err.Error()
	}
	m.sink.Emit(events.Event{Kind: kind, Server: m.server, At: snap.LastCheckedAt, Detail: detail})
}

// Snapshot returns the monitor's latest observation.
func (m *Monitor) Snapshot() domain.HealthSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

// Stop signals the probe loop to exit. Idempotent.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Wait blocks until the probe loop has exited, after Stop or ctx
// cancellation.
func (m *Monitor) Wait() {
	<-m.done
}

func classify(err error) domain.HealthErrorKind {
	var circuitErr *domain.CircuitOpenError
	if errors.As(err, &circuitErr) {
		return domain.HealthErrorCircuitOpen
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.HealthErrorTimeout
	}
	return domain.HealthErrorNetwork
}
