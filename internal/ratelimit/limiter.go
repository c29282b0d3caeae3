// Package ratelimit provides per-upstream request limiting and a shared
// retrying JSON fetch helper.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a sliding-window counter: at most limit acquisitions per
// window. Acquire blocks until a slot frees or the context is cancelled.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time

	now func() time.Time
}

// NewLimiter creates a limiter admitting limit calls per window.
func NewLimiter(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Acquire blocks until the limiter admits the caller.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait, ok := l.tryAcquire()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// tryAcquire records an acquisition if the window has room, otherwise
// returns how long until the oldest stamp leaves the window.
func (l *Limiter) tryAcquire() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	kept := l.stamps[:0]
	for _, s := range l.stamps {
		if s.After(cutoff) {
			kept = append(kept, s)
		}
	}
	l.stamps = kept

	if len(l.stamps) < l.limit {
		l.stamps = append(l.stamps, now)
		return 0, true
	}
	return l.stamps[0].Sub(cutoff), false
}

// Registry holds process-wide limiters keyed by provider id.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
}

// Default per-second limits for the known upstreams.
var defaultLimits = map[string]int{
	"rpc":     50,
	"birdeye": 30,
	"solscan": 10,
}

// NewRegistry creates a registry pre-seeded with the default limits.
func NewRegistry() *Registry {
	r := &Registry{limiters: make(map[string]*Limiter)}
	for name, limit := range defaultLimits {
		r.limiters[name] = NewLimiter(limit, time.Second)
	}
	return r
}

// Acquire blocks on the provider's limiter. Unknown providers are
// admitted without limiting.
func (r *Registry) Acquire(ctx context.Context, provider string) error {
	r.mu.Lock()
	l := r.limiters[provider]
	r.mu.Unlock()
	if l == nil {
		return nil
	}
	return l.Acquire(ctx)
}

// Set installs or replaces a provider limiter.
func (r *Registry) Set(provider string, limit int, window time.Duration) {
	r.mu.Lock()
	r.limiters[provider] = NewLimiter(limit, window)
	r.mu.Unlock()
}
