package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LimiterOpts configures a token bucket.
type LimiterOpts struct {
	// Rate is the number of tokens added per second. Zero or less disables
	// limiting.
	Rate float64
	// Burst is the maximum number of tokens (bucket capacity).
	Burst int
}

// PerWindow converts "n requests per window" into LimiterOpts with the
// whole window's allowance available as burst.
func PerWindow(n int, window time.Duration) LimiterOpts {
	if n <= 0 || window <= 0 {
		return LimiterOpts{}
	}
	return LimiterOpts{Rate: float64(n) / window.Seconds(), Burst: n}
}

func (o LimiterOpts) limit() rate.Limit {
	if o.Rate <= 0 {
		return rate.Inf
	}
	return rate.Limit(o.Rate)
}

func (o LimiterOpts) burst() int {
	if o.Burst <= 0 {
		return 1
	}
	return o.Burst
}

// Limiter is a token bucket for outbound calls.
type Limiter struct {
	bucket *rate.Limiter
}

// NewLimiter creates a token bucket rate limiter.
func NewLimiter(opts LimiterOpts) *Limiter {
	return &Limiter{bucket: rate.NewLimiter(opts.limit(), opts.burst())}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error { return l.bucket.Wait(ctx) }

type keyedEntry struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter keeps one token bucket per key, such as a client address.
// Buckets idle for longer than the idle horizon are evicted on access.
type KeyedLimiter struct {
	mu      sync.Mutex
	opts    LimiterOpts
	idle    time.Duration
	buckets map[string]*keyedEntry
	sweep   time.Time
	now     func() time.Time
}

// NewKeyedLimiter creates a per-key limiter. idle <= 0 defaults to ten
// minutes.
func NewKeyedLimiter(opts LimiterOpts, idle time.Duration) *KeyedLimiter {
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	return &KeyedLimiter{
		opts:    opts,
		idle:    idle,
		buckets: make(map[string]*keyedEntry),
		now:     time.Now,
	}
}

// Allow takes a token from key's bucket.
func (k *KeyedLimiter) Allow(key string) bool {
	now := k.now()
	k.mu.Lock()
	defer k.mu.Unlock()

	if now.Sub(k.sweep) >= k.idle {
		for key, e := range k.buckets {
			if now.Sub(e.lastSeen) >= k.idle {
				delete(k.buckets, key)
			}
		}
		k.sweep = now
	}

	e, ok := k.buckets[key]
	if !ok {
		e = &keyedEntry{bucket: rate.NewLimiter(k.opts.limit(), k.opts.burst())}
		k.buckets[key] = e
	}
	e.lastSeen = now
	return e.bucket.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}
