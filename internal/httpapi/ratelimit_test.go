package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_PerIPBudgetExhausts(t *testing.T) {
	rl := newRateLimiter(0, 2, 1)
	defer rl.stop()

	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.2"), "a different client has its own budget")
}

func TestRateLimiter_DisabledWhenLimitsAreZero(t *testing.T) {
	rl := newRateLimiter(0, 0, 0)
	defer rl.stop()

	for i := 0; i < 50; i++ {
		assert.True(t, rl.allow("10.0.0.1"))
	}
}

func TestServer_RateLimitMiddlewareReturns429(t *testing.T) {
	s, _, cleanup := newTestServer(t)
	defer cleanup()
	s.limiter = newRateLimiter(0, 1, 1)

	rec := doJSON(t, s.Handler(), "GET", "/tools", nil)
	assert.Equal(t, 200, rec.Code)

	rec = doJSON(t, s.Handler(), "GET", "/tools", nil)
	assert.Equal(t, 429, rec.Code)
}
