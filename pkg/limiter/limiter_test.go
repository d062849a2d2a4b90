package limiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestReserveRefillsPerMinute(t *testing.T) {
	c := &clock{t: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
	l := New(Config{TokensPerMinute: 1000, Now: c.now})

	require.NoError(t, l.Reserve(600))
	assert.ErrorIs(t, l.Reserve(600), ErrRateLimit)

	c.t = c.t.Add(59 * time.Second)
	assert.ErrorIs(t, l.Reserve(600), ErrRateLimit)

	c.t = c.t.Add(time.Second)
	require.NoError(t, l.Reserve(600))
	tokens, _ := l.Status()
	assert.Equal(t, 400, tokens)

	// Idle time never overfills the bucket.
	c.t = c.t.Add(10 * time.Minute)
	tokens, _ = l.Status()
	assert.Equal(t, 1000, tokens)
}

func TestOversizedReservationIsClamped(t *testing.T) {
	l := New(Config{TokensPerMinute: 100})
	require.NoError(t, l.Reserve(5000))
	assert.ErrorIs(t, l.Reserve(1), ErrRateLimit)
}

func TestAcquireBoundsConcurrency(t *testing.T) {
	l := New(Config{MaxConcurrent: 2})

	r1, err := l.Acquire()
	require.NoError(t, err)
	r2, err := l.Acquire()
	require.NoError(t, err)
	_, err = l.Acquire()
	assert.ErrorIs(t, err, ErrConcurrency)

	r1()
	r1()
	_, active := l.Status()
	assert.Equal(t, 1, active)

	r3, err := l.Acquire()
	require.NoError(t, err)
	r2()
	r3()
	_, active = l.Status()
	assert.Zero(t, active)
}

func TestZeroLimitsAreUnlimited(t *testing.T) {
	l := New(Config{})
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Reserve(1_000_000))
		_, err := l.Acquire()
		require.NoError(t, err)
	}
}
