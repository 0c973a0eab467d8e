// Package ratelimit limits requests per client key, either in process or
// through a shared Redis counter.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether one more request from key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryLimiter keeps a token bucket per key. Buckets idle for longer than
// ttl are evicted by a sweep that runs at most once per ttl.
type MemoryLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	entries   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewMemoryLimiter allows requests per window with a burst of the full
// allowance, refilled evenly across the window.
func NewMemoryLimiter(requests int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   rate.Limit(float64(requests) / window.Seconds()),
		burst:   requests,
		ttl:     2 * window,
		entries: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.entries[key]
	if b == nil {
		b = &bucket{lim: rate.NewLimiter(m.limit, m.burst)}
		m.entries[key] = b
	}
	b.lastSeen = now

	if now.Sub(m.lastSweep) >= m.ttl {
		m.sweep(now)
	}
	return b.lim.AllowN(now, 1), nil
}

func (m *MemoryLimiter) sweep(now time.Time) {
	for k, v := range m.entries {
		if now.Sub(v.lastSeen) > m.ttl {
			delete(m.entries, k)
		}
	}
	m.lastSweep = now
}

func (m *MemoryLimiter) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
