package network

import (
	"sync"
	"time"
)

const (
	defaultPostLimit  = 5
	defaultPostWindow = 5 * time.Second
)

// postLimiter is a fixed-window counter per author. It is the room's
// throttle: a post over the limit is pushed into the next window that has
// room, and the caller holds it back until then.
type postLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*postBucket
	now     func() time.Time
}

// postBucket counts posts in the window [reset-window, reset).
type postBucket struct {
	count int
	reset time.Time
}

func newPostLimiter(limit int, window time.Duration) *postLimiter {
	if window <= 0 {
		window = defaultPostWindow
	}
	return &postLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*postBucket),
		now:     time.Now,
	}
}

// Reserve counts one post for key and returns how long it must be held
// back. Zero means it can go out now.
func (r *postLimiter) Reserve(key string) time.Duration {
	if r == nil || key == "" || r.limit <= 0 {
		return 0
	}
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[key]
	if !ok || !now.Before(b.reset) {
		r.buckets[key] = &postBucket{count: 1, reset: now.Add(r.window)}
		return 0
	}
	if b.count >= r.limit {
		b.count = 0
		b.reset = b.reset.Add(r.window)
	}
	b.count++
	if start := b.reset.Add(-r.window); start.After(now) {
		return start.Sub(now)
	}
	return 0
}
