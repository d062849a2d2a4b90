// Package limiter bounds model usage with a tokens-per-minute bucket and a
// cap on requests in flight.
package limiter

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrRateLimit is returned when the minute's token allowance is spent.
	ErrRateLimit = errors.New("rate limit exceeded")
	// ErrConcurrency is returned when every request slot is taken.
	ErrConcurrency = errors.New("too many requests in flight")
)

// Config sets the limits. Zero disables a limit.
type Config struct {
	TokensPerMinute int
	MaxConcurrent   int
	Now             func() time.Time
}

// Limiter enforces Config. The zero value is not usable; call New.
type Limiter struct {
	mu         sync.Mutex
	cfg        Config
	tokens     int
	active     int
	lastRefill time.Time
}

// New creates a limiter with a full bucket.
func New(cfg Config) *Limiter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Limiter{cfg: cfg, tokens: cfg.TokensPerMinute, lastRefill: cfg.Now()}
}

// Reserve takes tokens from the bucket. A reservation larger than the whole
// bucket is clamped to it so a single big prompt can still go through once
// per minute.
func (l *Limiter) Reserve(tokens int) error {
	if l.cfg.TokensPerMinute <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if tokens > l.cfg.TokensPerMinute {
		tokens = l.cfg.TokensPerMinute
	}
	if l.tokens < tokens {
		return ErrRateLimit
	}
	l.tokens -= tokens
	return nil
}

// Acquire takes a request slot. The returned release is idempotent.
func (l *Limiter) Acquire() (release func(), err error) {
	if l.cfg.MaxConcurrent <= 0 {
		return func() {}, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active >= l.cfg.MaxConcurrent {
		return nil, ErrConcurrency
	}
	l.active++
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.active--
			l.mu.Unlock()
		})
	}, nil
}

// Status reports the tokens left this minute and the requests in flight.
func (l *Limiter) Status() (tokens, active int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens, l.active
}

// refill adds one allowance per whole minute elapsed, capped at the bucket.
func (l *Limiter) refill() {
	elapsed := l.cfg.Now().Sub(l.lastRefill)
	if elapsed < time.Minute {
		return
	}
	minutes := int(elapsed / time.Minute)
	l.tokens += minutes * l.cfg.TokensPerMinute
	if l.tokens > l.cfg.TokensPerMinute {
		l.tokens = l.cfg.TokensPerMinute
	}
	l.lastRefill = l.lastRefill.Add(time.Duration(minutes) * time.Minute)
}
