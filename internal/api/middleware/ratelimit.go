package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/hlog"
)

// rateBucket tracks request counts per IP within a time window.
type rateBucket struct {
	count   int
	resetAt time.Time
}

// RateLimiter provides IP-based rate limiting middleware.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rateBucket
	limit   int
	window  time.Duration
	now     func() time.Time
}

// NewRateLimiter creates a rate limiter: max `limit` requests per `window` per IP.
// Stale entries are dropped every window until ctx is done.
func NewRateLimiter(ctx context.Context, limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*rateBucket),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
	go func() {
		ticker := time.NewTicker(window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanup()
			}
		}
	}()
	return rl
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for ip, b := range rl.buckets {
		if now.After(b.resetAt) {
			delete(rl.buckets, ip)
		}
	}
}

// allow counts one request and returns how long to wait when over the limit.
func (rl *RateLimiter) allow(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, exists := rl.buckets[ip]
	if !exists || now.After(b.resetAt) {
		b = &rateBucket{resetAt: now.Add(rl.window)}
		rl.buckets[ip] = b
	}
	b.count++
	if b.count <= rl.limit {
		return true, 0
	}
	return false, b.resetAt.Sub(now)
}

// clientIP strips the port from RemoteAddr. Behind chi's RealIP middleware
// RemoteAddr is already a bare address.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Handler returns an http.Handler middleware that enforces the rate limit.
// A limit of zero or less disables it.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	if rl.limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		ok, wait := rl.allow(ip)
		if !ok {
			hlog.FromRequest(r).Warn().Str("ip", ip).Msg("[http] rate limited")
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"too many requests, try again later"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}
