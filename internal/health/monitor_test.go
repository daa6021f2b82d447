package health

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xdien/cipher/internal/events"
)

type fakeProber struct {
	mu      sync.Mutex
	results []error
	calls   int32
}

func (f *fakeProber) PerformHealthCheck(ctx context.Context) error {
	n := atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := int(n) - 1
	if idx >= len(f.results) {
		return f.results[len(f.results)-1]
	}
	return f.results[idx]
}

func TestMonitor_EmitsUnhealthyAfterThreshold(t *testing.T) {
	probe := &fakeProber{results: []error{errors.New("boom"), errors.New("boom"), errors.New("boom")}}
	sink := events.NewChannelSink(16)
	cfg := Config{Enabled: true, Interval: 5 * time.Millisecond, Timeout: time.Second, MaxConsecutiveFailures: 2, GracePeriod: 0}
	m := New("alpha", probe, cfg, sink)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	m.Start(ctx)

	var sawUnhealthy bool
	deadline := time.After(time.Second)
	for !sawUnhealthy {
		select {
		case ev := <-sink.Events():
			if ev.Kind == events.KindUnhealthy {
				sawUnhealthy = true
			}
		case <-deadline:
			t.Fatal("never observed unhealthy transition")
		}
	}

	m.Stop()
	m.Wait()
	assert.False(t, m.Snapshot().Healthy)
}

func TestMonitor_RecoversAfterSuccess(t *testing.T) {
	probe := &fakeProber{results: []error{errors.New("boom"), errors.New("boom"), nil, nil}}
	sink := events.NewChannelSink(16)
	cfg := Config{Enabled: true, Interval: 5 * time.Millisecond, Timeout: time.Second, MaxConsecutiveFailures: 1, GracePeriod: 0}
	m := New("beta", probe, cfg, sink)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	m.Start(ctx)

	var sawRecovered bool
	deadline := time.After(time.Second)
	for !sawRecovered {
		select {
		case ev := <-sink.Events():
			if ev.Kind == events.KindRecovered {
				sawRecovered = true
			}
		case <-deadline:
			t.Fatal("never observed recovered transition")
		}
	}

	m.Stop()
	m.Wait()
}

func TestMonitor_DisabledNeverProbes(t *testing.T) {
	probe := &fakeProber{results: []error{nil}}
	cfg := Config{Enabled: false}
	m := New("gamma", probe, cfg, events.NoopSink{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	m.Start(ctx)
	m.Wait()

	require.Equal(t, int32(0), atomic.LoadInt32(&probe.calls))
}
