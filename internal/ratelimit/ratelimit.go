// Package ratelimit throttles callers per key with token buckets.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/isdelr/owasp-lab-be/internal/api/respond"
	"github.com/isdelr/owasp-lab-be/internal/apperr"
	"github.com/isdelr/owasp-lab-be/internal/metrics"
	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter allows attempts per window for each key.
type Limiter struct {
	name   string
	limit  rate.Limit
	burst  int
	window time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// New creates a limiter allowing attempts per window. Buckets refill
// gradually, so a caller that used all attempts gets one back every
// window/attempts.
func New(name string, attempts int, window time.Duration) *Limiter {
	if attempts < 1 {
		attempts = 1
	}
	return &Limiter{
		name:    name,
		limit:   rate.Every(window / time.Duration(attempts)),
		burst:   attempts,
		window:  window,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow consumes one attempt for key.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Sweep drops buckets idle for longer than the window, which by then have
// refilled completely. It returns how many were dropped.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	n := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Middleware rejects requests over the limit with 429, keyed by client IP.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(ClientIP(r)) {
			metrics.RateLimited.WithLabelValues(l.name).Inc()
			respond.Error(w, apperr.ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the host part of RemoteAddr, which chi's RealIP
// middleware has already rewritten when proxy headers are present.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
