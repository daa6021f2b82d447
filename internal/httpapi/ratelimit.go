package httpapi

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xdien/cipher/internal/util"
)

// rateLimiter enforces a global and a per-client-IP request budget on the
// management surface, so a misbehaving script can't spin up connections
// or spam tool executions fast enough to destabilise the fleet.
type rateLimiter struct {
	global        *rate.Limiter
	perIPPerMin   int
	burst         int
	ipLimiters    sync.Map
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

type ipLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
	mu         sync.Mutex
}

func newRateLimiter(globalPerMin, perIPPerMin, burst int) *rateLimiter {
	rl := &rateLimiter{perIPPerMin: perIPPerMin, burst: burst, stopCleanup: make(chan struct{})}
	if globalPerMin > 0 {
		rl.global = rate.NewLimiter(rate.Limit(float64(globalPerMin)/60.0), burst)
	}
	rl.cleanupTicker = time.NewTicker(10 * time.Minute)
	go rl.cleanupRoutine()
	return rl
}

func (rl *rateLimiter) cleanupRoutine() {
	for {
		select {
		case <-rl.stopCleanup:
			return
		case <-rl.cleanupTicker.C:
			cutoff := time.Now().Add(-10 * time.Minute)
			rl.ipLimiters.Range(func(key, value any) bool {
				entry := value.(*ipLimiterEntry)
				entry.mu.Lock()
				stale := entry.lastAccess.Before(cutoff)
				entry.mu.Unlock()
				if stale {
					rl.ipLimiters.Delete(key)
				}
				return true
			})
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.stopOnce.Do(func() {
		rl.cleanupTicker.Stop()
		close(rl.stopCleanup)
	})
}

func (rl *rateLimiter) allow(clientIP string) bool {
	if rl.global != nil && !rl.global.Allow() {
		return false
	}
	if rl.perIPPerMin <= 0 {
		return true
	}
	value, _ := rl.ipLimiters.LoadOrStore(clientIP, &ipLimiterEntry{
		limiter: rate.NewLimiter(rate.Limit(float64(rl.perIPPerMin)/60.0), rl.burst),
	})
	entry := value.(*ipLimiterEntry)
	entry.mu.Lock()
	entry.lastAccess = time.Now()
	entry.mu.Unlock()
	return entry.limiter.Allow()
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		clientIP := util.GetClientIP(r, s.cfg.TrustProxyHeaders, s.trustedCIDRs)
		if !s.limiter.allow(clientIP) {
			writeError(w, http.StatusTooManyRequests, CodeBadRequest, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
