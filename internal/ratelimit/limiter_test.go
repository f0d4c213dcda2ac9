package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time { return c.t }
func (c *manualClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMemoryBurstThenDeny(t *testing.T) {
	clock := &manualClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	m := NewMemory(1, 3, WithMemoryClock(clock.now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := m.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
	}
	res, err := m.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.Equal(t, 1, res.RetryAfterSeconds())

	other, err := m.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys are independent")

	clock.advance(time.Second)
	res, err = m.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "refilled after one second")
}

func TestMemoryDeniedRequestsDoNotConsumeTokens(t *testing.T) {
	clock := &manualClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	m := NewMemory(1, 1, WithMemoryClock(clock.now))
	ctx := context.Background()

	res, _ := m.Allow(ctx, "k")
	require.True(t, res.Allowed)
	for i := 0; i < 5; i++ {
		res, _ = m.Allow(ctx, "k")
		require.False(t, res.Allowed)
	}
	clock.advance(time.Second)
	res, _ = m.Allow(ctx, "k")
	assert.True(t, res.Allowed)
}

func TestMemorySweep(t *testing.T) {
	clock := &manualClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	m := NewMemory(5, 5, WithMemoryClock(clock.now), WithIdleTTL(time.Minute))
	ctx := context.Background()

	_, _ = m.Allow(ctx, "a")
	clock.advance(30 * time.Second)
	_, _ = m.Allow(ctx, "b")
	clock.advance(45 * time.Second)

	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.size())
}

func TestRedisWindowKey(t *testing.T) {
	l := NewRedis(nil, "", 10, time.Minute)
	at := time.Date(2026, 5, 1, 9, 0, 42, 0, time.UTC)
	assert.Equal(t, "portal:rl:api_10.0.0.1:1777626000", l.windowKey("api 10.0.0.1", at))
	assert.Equal(t, "portal:rl:unknown:1777626000", l.windowKey("  ", at))
}

func TestRedisResult(t *testing.T) {
	l := NewRedis(nil, "rl:", 2, time.Minute)
	at := time.Date(2026, 5, 1, 9, 0, 45, 0, time.UTC)

	ok := l.result(2, 15*time.Second, at)
	assert.True(t, ok.Allowed)
	assert.Equal(t, int64(0), ok.Remaining)

	denied := l.result(3, 15*time.Second, at)
	assert.False(t, denied.Allowed)
	assert.Equal(t, 15*time.Second, denied.RetryAfter)

	noTTL := l.result(3, -1, at)
	assert.Equal(t, 15*time.Second, noTTL.RetryAfter)
}
