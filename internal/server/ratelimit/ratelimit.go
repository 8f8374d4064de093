// Package ratelimit throttles lookup requests per client. Each client IP
// gets its own token bucket from golang.org/x/time/rate.
package ratelimit

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter grants each key limit requests per window. Tokens refill evenly
// across the window and a full window's worth may be spent in a burst.
type Limiter struct {
	limit  int
	window time.Duration
	every  rate.Limit
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*client
}

// New returns a Limiter. A non-positive limit or window disables limiting.
func New(limit int, window time.Duration) *Limiter {
	l := &Limiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		clients: make(map[string]*client),
	}
	if l.enabled() {
		l.every = rate.Every(window / time.Duration(limit))
	}
	return l
}

func (l *Limiter) enabled() bool {
	return l.limit > 0 && l.window > 0
}

// reserve takes one token for key. When none is available it returns the
// time until the next one.
func (l *Limiter) reserve(key string) (bool, time.Duration) {
	if !l.enabled() {
		return true, 0
	}
	now := l.now()
	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.every, l.limit)}
		l.clients[key] = c
	}
	c.lastSeen = now
	l.mu.Unlock()

	r := c.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, l.window
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Run evicts idle clients every interval until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if !l.enabled() {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evict()
		}
	}
}

// evict drops clients idle for a full window; their buckets would be full
// again anyway.
func (l *Limiter) evict() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.window)
	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}

// Middleware rejects over-limit clients with 429 and a Retry-After of the
// whole seconds until their next token. Clients are keyed by remote IP.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	if !l.enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := l.reserve(clientKey(r))
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// retryAfterSeconds rounds to the millisecond first so float drift in the
// reservation delay does not add a whole second.
func retryAfterSeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Round(time.Millisecond).Seconds())))
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
