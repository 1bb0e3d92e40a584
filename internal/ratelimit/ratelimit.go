package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Limiter spaces out requests against one retailer.
type Limiter interface {
	Wait(ctx context.Context) error
}

type RateLimiter interface {
	Limiter
	SetDelay(min, max time.Duration)
}

type SimpleRateLimiter struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
	mu         sync.Mutex
	jitter     bool
}

func NewSimpleRateLimiter(minDelay, maxDelay time.Duration) *SimpleRateLimiter {
	return &SimpleRateLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
		jitter:   true,
	}
}

// Wait blocks until the delay since the previous call has passed. Callers
// are served one at a time so concurrent workers still respect the spacing.
func (r *SimpleRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.lastAction.IsZero() {
		elapsed := time.Since(r.lastAction)
		delay := r.calculateDelay()

		if elapsed < delay {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay - elapsed):
			}
		}
	}

	r.lastAction = time.Now()
	return nil
}

func (r *SimpleRateLimiter) SetDelay(min, max time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.minDelay = min
	r.maxDelay = max
}

func (r *SimpleRateLimiter) calculateDelay() time.Duration {
	if !r.jitter || r.maxDelay <= r.minDelay {
		return r.minDelay
	}

	delta := r.maxDelay - r.minDelay
	return r.minDelay + time.Duration(rand.Int63n(int64(delta)))
}

type noop struct{}

func (noop) Wait(ctx context.Context) error { return ctx.Err() }

// Registry hands out one limiter per retailer so that separate scrapes of
// the same brand share its politeness budget.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*SimpleRateLimiter
}

func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*SimpleRateLimiter)}
}

// For returns the limiter for key. The delay is jittered up to 25% above the
// configured value. A non-positive delay disables limiting. A nil registry
// returns a fresh, unshared limiter.
func (r *Registry) For(key string, delay time.Duration) Limiter {
	if delay <= 0 {
		return noop{}
	}
	if r == nil {
		return NewSimpleRateLimiter(delay, delay+delay/4)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[key]
	if !ok {
		l = NewSimpleRateLimiter(delay, delay+delay/4)
		r.limiters[key] = l
		return l
	}
	l.SetDelay(delay, delay+delay/4)
	return l
}
