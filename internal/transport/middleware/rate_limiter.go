// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRetryAfter         = "Retry-After"
)

type rateLimitDecision struct {
	Allowed           bool
	LimitPerMinute    int
	Remaining         int
	RetryAfterSeconds int
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// clientRateLimiter keeps one token bucket per producer address.
type clientRateLimiter struct {
	mu              sync.Mutex
	capacity        float64
	refillPerSecond float64
	buckets         map[string]*tokenBucket
}

func newClientRateLimiter(limitPerMinute int) *clientRateLimiter {
	capacity := float64(limitPerMinute)
	return &clientRateLimiter{
		capacity:        capacity,
		refillPerSecond: capacity / 60.0,
		buckets:         make(map[string]*tokenBucket, 32),
	}
}

func (l *clientRateLimiter) Allow(client string, now time.Time) rateLimitDecision {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.buckets[client]
	if !ok {
		bucket = &tokenBucket{tokens: l.capacity, lastRefill: now}
		l.buckets[client] = bucket
	}

	if elapsed := now.Sub(bucket.lastRefill).Seconds(); elapsed > 0 {
		bucket.tokens = math.Min(l.capacity, bucket.tokens+elapsed*l.refillPerSecond)
		bucket.lastRefill = now
	}

	decision := rateLimitDecision{
		LimitPerMinute: int(l.capacity),
		Remaining:      int(math.Floor(bucket.tokens)),
	}

	if bucket.tokens >= 1 {
		bucket.tokens--
		decision.Allowed = true
		decision.Remaining = int(math.Floor(bucket.tokens))
		return decision
	}

	waitSeconds := int(math.Ceil((1 - bucket.tokens) * 60 / l.capacity))
	if waitSeconds < 1 {
		waitSeconds = 1
	}
	decision.RetryAfterSeconds = waitSeconds
	return decision
}

// PublishRateLimit limits requests per client address. A non-positive limit
// disables it.
func PublishRateLimit(limitPerMinute int, logger *slog.Logger) func(http.Handler) http.Handler {
	return publishRateLimitWithClock(limitPerMinute, time.Now, logger)
}

func publishRateLimitWithClock(limitPerMinute int, now func() time.Time, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		if limitPerMinute <= 0 {
			return next
		}
		limiter := newClientRateLimiter(limitPerMinute)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientAddr(r)
			decision := limiter.Allow(client, now())

			w.Header().Set(headerRateLimitLimit, strconv.Itoa(decision.LimitPerMinute))
			w.Header().Set(headerRateLimitRemaining, strconv.Itoa(decision.Remaining))
			if !decision.Allowed {
				logger.Warn("publish rate limited", "client", client, "retry_after_s", decision.RetryAfterSeconds)
				w.Header().Set(headerRetryAfter, strconv.Itoa(decision.RetryAfterSeconds))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
