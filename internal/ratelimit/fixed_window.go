package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Dispatch policy for outbound mail.
const (
	// SendLimit is the number of sends allowed per identity per window.
	SendLimit = 25

	// SendWindow is the length of one send window.
	SendWindow = 60 * time.Second

	// ActionSend is the action part of the bucket key for outbound mail.
	ActionSend = "gmail.send"
)

// Decision is the outcome of a single Consume call.
type Decision struct {
	Allowed bool
	// Remaining is the number of calls left in the current window.
	Remaining int
	// RetryAfter is how long until the window resets. Only set on denial.
	RetryAfter time.Duration
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds, the unit of
// the Retry-After header. A denial never reports less than one second.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	secs := int((d.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

type bucket struct {
	count     int
	expiresAt time.Time
}

// FixedWindow counts calls per key in fixed time windows.
// It is safe for concurrent use.
type FixedWindow struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// Option configures a FixedWindow.
type Option func(*FixedWindow)

// WithClock replaces time.Now. Tests use it to move time without sleeping.
func WithClock(now func() time.Time) Option {
	return func(f *FixedWindow) { f.now = now }
}

// NewFixedWindow creates an empty limiter.
func NewFixedWindow(opts ...Option) *FixedWindow {
	f := &FixedWindow{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Key builds the bucket key for an action performed by an identity.
func Key(action, identity string) string {
	return action + ":" + identity
}

// Consume takes one slot from the bucket for key. The first call, and the first
// call at or after the window expiry, opens a new window with count 1. A limit
// below 1 admits nothing and leaves no bucket behind.
func (f *FixedWindow) Consume(key string, limit int, window time.Duration) Decision {
	if limit <= 0 {
		return Decision{Allowed: false, RetryAfter: window}
	}
	if key == "" {
		key = "anonymous"
	}
	now := f.now()

	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.buckets[key]
	if !ok || !now.Before(b.expiresAt) {
		f.buckets[key] = &bucket{count: 1, expiresAt: now.Add(window)}
		return Decision{Allowed: true, Remaining: max(limit-1, 0)}
	}

	if b.count >= limit {
		return Decision{Allowed: false, RetryAfter: b.expiresAt.Sub(now)}
	}

	b.count++
	return Decision{Allowed: true, Remaining: limit - b.count}
}

// Len returns the number of tracked buckets, expired or not.
func (f *FixedWindow) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buckets)
}

// Sweep drops buckets whose window has expired. Correctness never depends on
// it; it only bounds memory.
func (f *FixedWindow) Sweep() int {
	now := f.now()

	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	for k, b := range f.buckets {
		if !now.Before(b.expiresAt) {
			delete(f.buckets, k)
			removed++
		}
	}
	return removed
}

// StartJanitor runs Sweep every interval until ctx is cancelled.
func (f *FixedWindow) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.Sweep()
			}
		}
	}()
}
