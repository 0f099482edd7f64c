// Package ratelimit throttles navigation requests per session.
package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/mosacloud/drive/internal/metrics"
	"github.com/mosacloud/drive/internal/protocol"
)

// Limiter implements per-key token bucket rate limiting.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	now     func() time.Time
}

type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// New creates a limiter.
func New() *Limiter {
	return &Limiter{
		buckets: make(map[string]*tokenBucket),
		now:     time.Now,
	}
}

// Allow reports whether a request for key fits in a budget of rpm
// requests per minute. rpm=0 means unlimited.
func (l *Limiter) Allow(key string, rpm int) bool {
	if rpm <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = &tokenBucket{
			tokens:     float64(rpm),
			maxTokens:  float64(rpm),
			refillRate: float64(rpm) / 60.0,
			lastRefill: now,
		}
		l.buckets[key] = bucket
	}

	if bucket.maxTokens != float64(rpm) {
		bucket.maxTokens = float64(rpm)
		bucket.refillRate = float64(rpm) / 60.0
	}

	elapsed := now.Sub(bucket.lastRefill).Seconds()
	bucket.tokens += elapsed * bucket.refillRate
	if bucket.tokens > bucket.maxTokens {
		bucket.tokens = bucket.maxTokens
	}
	bucket.lastRefill = now

	if bucket.tokens < 1 {
		return false
	}
	bucket.tokens--
	return true
}

// RetryAfter returns the number of seconds until key gets a token.
func (l *Limiter) RetryAfter(key string, rpm int) int {
	if rpm <= 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.buckets[key]
	if !ok || bucket.tokens >= 1 {
		return 0
	}
	needed := 1.0 - bucket.tokens
	return int(needed/bucket.refillRate) + 1
}

// Cleanup drops buckets not touched within maxAge.
func (l *Limiter) Cleanup(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxAge)
	n := 0
	for key, bucket := range l.buckets {
		if bucket.lastRefill.Before(cutoff) {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}

// KeyFunc picks the bucket a request is charged to. An empty key lets
// the request through.
type KeyFunc func(r *http.Request) string

// Middleware rejects requests over rpm per key with 429.
func Middleware(l *Limiter, rpm int, key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rpm <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" || l.Allow(k, rpm) {
				next.ServeHTTP(w, r)
				return
			}

			metrics.RecordRateLimited()
			w.Header().Set("Retry-After", strconv.Itoa(l.RetryAfter(k, rpm)))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(protocol.ErrorResponse{
				Error: "rate limit exceeded",
				Code:  http.StatusTooManyRequests,
			})
		})
	}
}
