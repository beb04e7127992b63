package ratelimit

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultIPRate is the sustained number of sign-in requests per second per IP.
	DefaultIPRate = 2

	// DefaultIPBurst is the burst allowance per IP.
	DefaultIPBurst = 10

	// ipIdleTTL is how long an idle per-IP limiter is kept.
	ipIdleTTL = 10 * time.Minute
)

type ipEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// IPLimiter is a token bucket per client IP address.
type IPLimiter struct {
	mu         sync.Mutex
	entries    map[string]*ipEntry
	rps        rate.Limit
	burst      int
	trustProxy bool
	now        func() time.Time
}

// NewIPLimiter creates a limiter allowing rps requests per second with the
// given burst. trustProxy enables X-Forwarded-For / X-Real-IP; only set it
// when the server sits behind a proxy that overwrites those headers.
func NewIPLimiter(rps float64, burst int, trustProxy bool) *IPLimiter {
	return &IPLimiter{
		entries:    make(map[string]*ipEntry),
		rps:        rate.Limit(rps),
		burst:      burst,
		trustProxy: trustProxy,
		now:        time.Now,
	}
}

// Allow reports whether a request from ip may proceed.
func (l *IPLimiter) Allow(ip string) bool {
	now := l.now()

	l.mu.Lock()
	e, ok := l.entries[ip]
	if !ok {
		e = &ipEntry{lim: rate.NewLimiter(l.rps, l.burst)}
		l.entries[ip] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	return e.lim.AllowN(now, 1)
}

// Cleanup removes limiters that have been idle longer than ipIdleTTL.
func (l *IPLimiter) Cleanup() {
	cutoff := l.now().Add(-ipIdleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	for ip, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, ip)
		}
	}
}

// StartJanitor runs Cleanup every interval until ctx is cancelled.
func (l *IPLimiter) StartJanitor(ctx context.Context, every time.Duration) {
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
				l.Cleanup()
			}
		}
	}()
}

// Middleware rejects requests over the per-IP budget with 429.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(ClientIP(r, l.trustProxy)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate_limit_exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP extracts the client IP address from the request.
// Proxy headers are only consulted when trustProxy is set.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
