// Package relay implements token bucket rate limiters: one per connection
// for inbound messages, and one per client IP for the HTTP surface.
package relay

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

type rateLimiter struct {
	mu        sync.Mutex
	tokens    float64
	capacity  float64
	rate      float64
	lastCheck time.Time
}

func newRateLimiter(capacity int, interval time.Duration) *rateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	rate := float64(capacity) / interval.Seconds()
	if rate <= 0 {
		rate = float64(capacity)
	}

	return &rateLimiter{
		tokens:    float64(capacity),
		capacity:  float64(capacity),
		rate:      rate,
		lastCheck: time.Now(),
	}
}

func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastCheck).Seconds()
	rl.lastCheck = now

	if elapsed > 0 {
		rl.tokens += elapsed * rl.rate
		if rl.tokens > rl.capacity {
			rl.tokens = rl.capacity
		}
	}

	if rl.tokens < 1 {
		return false
	}

	rl.tokens--
	return true
}

// full reports whether the bucket has refilled to capacity, meaning the
// client has been idle for at least a whole window.
func (rl *rateLimiter) full() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	elapsed := time.Since(rl.lastCheck).Seconds()
	return rl.tokens+elapsed*rl.rate >= rl.capacity
}

// maxTrackedClients caps the limiter map; idle buckets are pruned once the
// cap is reached.
const maxTrackedClients = 10000

// httpRateLimiter enforces the per-client request budget on the HTTP
// surface, one token bucket per client IP.
type httpRateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*rateLimiter
	requests int
	window   time.Duration
}

func newHTTPRateLimiter(requests int, window time.Duration) *httpRateLimiter {
	return &httpRateLimiter{
		buckets:  make(map[string]*rateLimiter),
		requests: requests,
		window:   window,
	}
}

func (l *httpRateLimiter) allow(clientIP string) bool {
	l.mu.Lock()
	bucket, ok := l.buckets[clientIP]
	if !ok {
		if len(l.buckets) >= maxTrackedClients {
			l.prune()
		}
		bucket = newRateLimiter(l.requests, l.window)
		l.buckets[clientIP] = bucket
	}
	l.mu.Unlock()

	return bucket.allow()
}

// prune drops buckets that have fully refilled; callers must hold the mutex.
func (l *httpRateLimiter) prune() {
	for ip, bucket := range l.buckets {
		if bucket.full() {
			delete(l.buckets, ip)
		}
	}
}

// middleware rejects requests over the budget with 429. The health endpoint
// is exempt so probes keep working under load.
func (l *httpRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" && !l.allow(realIP(r)) {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// realIP extracts the client IP from proxy headers or the connection.
func realIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
